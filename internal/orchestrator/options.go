package orchestrator

import (
	"github.com/ShayCichocki/hive/internal/ctxstore"
	"github.com/ShayCichocki/hive/internal/delegation"
	"github.com/ShayCichocki/hive/internal/executor"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/orchestrator/policy"
	"github.com/ShayCichocki/hive/internal/queue"
)

const (
	// DefaultMaxConcurrency is the number of executions run in parallel
	// when WithMaxConcurrency is not given.
	DefaultMaxConcurrency = 4
	// DefaultEventBuffer is the events channel capacity.
	DefaultEventBuffer = 100
)

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Executor runs each dispatched task.
	Executor executor.Executor
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxConcurrency int
	policyConfig   *policy.Config
	queue          *queue.Queue
	store          *ctxstore.Store
	prompts        PromptBuilder
	parser         *delegation.Parser
	logger         *DebugLogger
	eventBuffer    int
	metrics        *metrics.Metrics
	keepAlive      bool
}

// WithMaxConcurrency sets the maximum number of executions in flight.
func WithMaxConcurrency(n int) Option {
	return func(o *orchestratorOptions) { o.maxConcurrency = n }
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *orchestratorOptions) { o.policyConfig = p }
}

// WithQueue sets the task queue. A supplied queue keeps its own retry bound
// and admission policy; the default queue takes both from the policy.
func WithQueue(q *queue.Queue) Option {
	return func(o *orchestratorOptions) { o.queue = q }
}

// WithContextStore sets the context store. The default keeps entries in
// memory only.
func WithContextStore(s *ctxstore.Store) Option {
	return func(o *orchestratorOptions) { o.store = s }
}

// WithPromptBuilder sets how prompts are built from a task and its context.
func WithPromptBuilder(b PromptBuilder) Option {
	return func(o *orchestratorOptions) { o.prompts = b }
}

// WithParser sets the delegation parser.
func WithParser(p *delegation.Parser) Option {
	return func(o *orchestratorOptions) { o.parser = p }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithEventBuffer sets the events channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}

// WithMetrics records scheduler activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithKeepAlive keeps the run loop idling once nothing is in flight and
// nothing is pending, waiting for more submissions until Stop or Kill.
// By default the loop returns as soon as the work runs out.
func WithKeepAlive() Option {
	return func(o *orchestratorOptions) { o.keepAlive = true }
}
