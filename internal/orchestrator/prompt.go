package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/hive/pkg/models"
)

// PromptBuilder turns a task and the recent context for its category into
// the text sent to the executor.
type PromptBuilder interface {
	Build(task *models.Task, context []models.ContextEntry) string
}

// PromptBuilderFunc adapts a function to the PromptBuilder interface.
type PromptBuilderFunc func(task *models.Task, context []models.ContextEntry) string

// Build calls f.
func (f PromptBuilderFunc) Build(task *models.Task, context []models.ContextEntry) string {
	return f(task, context)
}

// roles describes each category to the worker.
var roles = map[models.Category]string{
	models.CategoryArchitect:  "You are the architect. Plan the work, decide the structure, and hand implementation to other agents.",
	models.CategoryCoder:      "You are a coder. Implement the requested change in working code.",
	models.CategoryTester:     "You are a tester. Write and run tests, and report any failures precisely.",
	models.CategoryReviewer:   "You are a reviewer. Review the work for correctness and clarity and state whether changes are needed.",
	models.CategorySecurity:   "You are a security reviewer. Look for vulnerabilities and unsafe handling of credentials and input.",
	models.CategoryIntegrator: "You are an integrator. Wire the finished components together.",
	models.CategoryDocumenter: "You are a documenter. Write clear documentation for the finished work.",
	models.CategoryResearcher: "You are a researcher. Gather the background information the team needs.",
	models.CategoryDevOps:     "You are a devops engineer. Handle build, deployment and infrastructure.",
}

// DefaultPromptBuilder renders a role line, the task, recent context and
// the delegation protocol.
type DefaultPromptBuilder struct{}

// Build implements PromptBuilder.
func (DefaultPromptBuilder) Build(task *models.Task, context []models.ContextEntry) string {
	var sb strings.Builder

	role, ok := roles[task.Category]
	if !ok {
		role = fmt.Sprintf("You are a %s agent.", task.Category)
	}
	sb.WriteString(role)
	sb.WriteString("\n\n## Task\n\n")
	sb.WriteString(task.Description)
	sb.WriteString("\n")
	if task.DelegatedBy != "" {
		fmt.Fprintf(&sb, "\nThis task was delegated by task %s, which has completed.\n", task.DelegatedBy)
	}

	if len(context) > 0 {
		sb.WriteString("\n## Recent context\n\n")
		for _, e := range context {
			fmt.Fprintf(&sb, "- [%s from %s] %s\n", e.Type, e.ProducerID, e.Content)
		}
	}

	sb.WriteString("\n## Delegation\n\n")
	sb.WriteString("To hand follow-up work to another agent, put one line per request at the end of your answer:\n\n")
	sb.WriteString("    DELEGATE_TO: <category> - <description>\n")
	sb.WriteString("    REQUEST_AGENT: <category> - <description>\n")
	sb.WriteString("    NEEDS_REVIEW: <category> - <description>\n")
	sb.WriteString("    ITERATE_WITH: <category> - <description>\n\n")
	sb.WriteString("Add [high] or [low] after the category to set the priority.\n")
	sb.WriteString("Categories: ")
	cats := models.AllCategories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString("\n")

	return sb.String()
}
