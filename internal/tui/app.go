package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/pkg/models"
)

// maxLogs bounds the activity log kept in memory.
const maxLogs = 200

// Controller is what the keyboard acts on. *orchestrator.Orchestrator
// implements it.
type Controller interface {
	Stop(ctx context.Context) error
	Kill()
	Pause()
	Resume()
}

type logLevel int

const (
	levelInfo logLevel = iota
	levelWarn
	levelError
)

type logLine struct {
	at    time.Time
	level logLevel
	text  string
}

// App is the bubbletea model for the run dashboard.
type App struct {
	ctrl    Controller
	spinner spinner.Model

	tasks   map[string]*models.Task
	order   []string
	workers map[string]*models.Worker
	logs    []logLine

	width  int
	height int

	paused     bool
	stopping   bool
	quitOnDone bool
	done       bool
	err        error

	// Styles
	titleStyle   lipgloss.Style
	borderStyle  lipgloss.Style
	headerStyle  lipgloss.Style
	pendingStyle lipgloss.Style
	runningStyle lipgloss.Style
	doneStyle    lipgloss.Style
	failedStyle  lipgloss.Style
	dimStyle     lipgloss.Style
	warnStyle    lipgloss.Style
	keyStyle     lipgloss.Style
}

// NewApp creates the dashboard model.
func NewApp(ctrl Controller) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))

	return &App{
		ctrl:    ctrl,
		spinner: s,
		tasks:   make(map[string]*models.Task),
		workers: make(map[string]*models.Worker),
		width:   80,
		height:  24,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		keyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")). // Blue
			Bold(true),
	}
}

// SetRefreshRate sets how often the spinners redraw.
func (a *App) SetRefreshRate(d time.Duration) {
	if d > 0 {
		a.spinner.Spinner.FPS = d
	}
}

// NewProgram creates a bubbletea program around a new App.
func NewProgram(ctrl Controller) (*tea.Program, *App) {
	app := NewApp(ctrl)
	return tea.NewProgram(app, tea.WithAltScreen()), app
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a, a.handleKey(msg.String())

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)

	case stopResultMsg:
		if msg.err != nil {
			a.log(levelError, fmt.Sprintf("stop: %v", msg.err))
		}

	case SessionDoneMsg:
		a.done = true
		a.err = msg.Err
		if msg.Err != nil {
			a.log(levelError, fmt.Sprintf("run ended: %v", msg.Err))
		}
		if a.quitOnDone {
			return a, tea.Quit
		}
	}
	return a, nil
}

func (a *App) handleKey(key string) tea.Cmd {
	switch key {
	case "q":
		if a.done {
			return tea.Quit
		}
		if a.stopping {
			return nil
		}
		a.stopping = true
		a.log(levelWarn, "stopping: waiting for in-flight tasks")
		ctrl := a.ctrl
		return func() tea.Msg {
			return stopResultMsg{err: ctrl.Stop(context.Background())}
		}

	case "ctrl+c":
		if a.done {
			return tea.Quit
		}
		a.quitOnDone = true
		a.log(levelError, "killed: abandoning in-flight tasks")
		a.ctrl.Kill()

	case "p":
		if a.done {
			return nil
		}
		a.paused = !a.paused
		if a.paused {
			a.ctrl.Pause()
			a.log(levelWarn, "paused")
		} else {
			a.ctrl.Resume()
			a.log(levelInfo, "resumed")
		}
	}
	return nil
}

func (a *App) handleEvent(e orchestrator.Event) {
	if e.Task != nil {
		a.upsertTask(e.Task)
	}

	switch e.Type {
	case orchestrator.EventStarted:
		a.log(levelInfo, "run started")
	case orchestrator.EventStopped:
		a.workers = make(map[string]*models.Worker)
		a.log(levelInfo, "run stopped: "+e.Message)
	case orchestrator.EventTaskAdded:
		if e.ParentID != "" {
			a.log(levelInfo, fmt.Sprintf("%s delegated %s to %s", shortID(e.ParentID), shortID(e.TaskID), e.Category))
		} else {
			a.log(levelInfo, fmt.Sprintf("added %s (%s)", shortID(e.TaskID), e.Category))
		}
	case orchestrator.EventWorkerSpawned:
		if e.Worker != nil {
			a.workers[e.Worker.ID] = e.Worker
		}
		a.markRunning(e.TaskID)
	case orchestrator.EventWorkerCompleted, orchestrator.EventWorkerFailed:
		if e.Worker != nil {
			delete(a.workers, e.Worker.ID)
		}
	case orchestrator.EventTaskCompleted:
		a.log(levelInfo, fmt.Sprintf("%s completed in %s", shortID(e.TaskID), e.Duration.Round(time.Second)))
	case orchestrator.EventTaskFailed:
		a.log(levelError, fmt.Sprintf("%s failed: %s", shortID(e.TaskID), e.Message))
	case orchestrator.EventTaskDeadlocked:
		a.log(levelWarn, fmt.Sprintf("%s deadlocked on dependencies", shortID(e.TaskID)))
	}
}

func (a *App) upsertTask(t *models.Task) {
	if _, ok := a.tasks[t.ID]; !ok {
		a.order = append(a.order, t.ID)
	}
	a.tasks[t.ID] = t
}

// markRunning covers spawn events that arrive without a task copy.
func (a *App) markRunning(id string) {
	if t, ok := a.tasks[id]; ok && t.Status == models.TaskStatusPending {
		cp := *t
		cp.Status = models.TaskStatusRunning
		a.tasks[id] = &cp
	}
}

func (a *App) log(level logLevel, text string) {
	a.logs = append(a.logs, logLine{at: time.Now(), level: level, text: text})
	if len(a.logs) > maxLogs {
		a.logs = a.logs[len(a.logs)-maxLogs:]
	}
}

// View implements tea.Model.
func (a *App) View() string {
	inner := a.width - 4
	if inner < 20 {
		inner = 20
	}

	logRows := 6
	workerRows := len(a.workers)
	if workerRows == 0 {
		workerRows = 1
	}
	// header, footer and three bordered panels with titles
	taskRows := a.height - 2 - logRows - workerRows - 9
	if taskRows < 3 {
		taskRows = 3
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		a.renderHeader(),
		a.panel("Tasks", a.renderTasks(inner, taskRows), inner),
		a.panel("Workers", a.renderWorkers(inner), inner),
		a.panel("Activity", a.renderLogs(inner, logRows), inner),
		a.renderFooter(),
	)
}

func (a *App) panel(title, body string, width int) string {
	content := a.headerStyle.Render(title) + "\n" + body
	return a.borderStyle.Width(width).Render(content)
}

func (a *App) counts() (pending, running, completed, failed int) {
	for _, t := range a.tasks {
		switch t.Status {
		case models.TaskStatusPending:
			pending++
		case models.TaskStatusRunning:
			running++
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		}
	}
	return
}

func (a *App) renderHeader() string {
	pending, running, completed, failed := a.counts()

	state := a.runningStyle.Render("running")
	switch {
	case a.done:
		state = a.dimStyle.Render("finished")
	case a.stopping:
		state = a.warnStyle.Render("draining")
	case a.paused:
		state = a.warnStyle.Render("paused")
	}

	stats := fmt.Sprintf("%d running · %d pending · %s · %s",
		running, pending,
		a.doneStyle.Render(fmt.Sprintf("%d completed", completed)),
		a.failedStyle.Render(fmt.Sprintf("%d failed", failed)))

	return fmt.Sprintf(" %s  %s  %s", a.titleStyle.Render("hive"), state, stats)
}

func (a *App) renderTasks(width, rows int) string {
	if len(a.order) == 0 {
		return a.dimStyle.Render("no tasks yet")
	}

	// Show the most recent tasks when the table does not fit.
	ids := a.order
	hidden := 0
	if len(ids) > rows {
		hidden = len(ids) - rows + 1
		ids = ids[hidden:]
	}

	var lines []string
	if hidden > 0 {
		lines = append(lines, a.dimStyle.Render(fmt.Sprintf("… %d earlier", hidden)))
	}
	for _, id := range ids {
		t := a.tasks[id]
		prefix := fmt.Sprintf("%s %-8s %-10s %-6s ", a.statusIcon(t.Status), shortID(t.ID), t.Category, t.Priority)
		desc := truncate(t.Description, width-lipgloss.Width(prefix))
		line := prefix + desc
		if t.Status == models.TaskStatusFailed && t.Error != "" {
			line = prefix + a.failedStyle.Render(truncate(t.Description+": "+t.Error, width-lipgloss.Width(prefix)))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *App) statusIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusRunning:
		return a.spinner.View()
	case models.TaskStatusCompleted:
		return a.doneStyle.Render("✓")
	case models.TaskStatusFailed:
		return a.failedStyle.Render("✗")
	default:
		return a.pendingStyle.Render("○")
	}
}

func (a *App) renderWorkers(width int) string {
	if len(a.workers) == 0 {
		return a.dimStyle.Render("idle")
	}

	workers := make([]*models.Worker, 0, len(a.workers))
	for _, w := range a.workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].StartTime.Before(workers[j].StartTime)
	})

	lines := make([]string, 0, len(workers))
	for _, w := range workers {
		elapsed := time.Since(w.StartTime).Round(time.Second)
		line := fmt.Sprintf("%s %-10s %-10s %-8s %s", a.spinner.View(), w.ID, w.Category, shortID(w.TaskID), elapsed)
		if t, ok := a.tasks[w.TaskID]; ok {
			line += "  " + a.dimStyle.Render(truncate(t.Description, width-lipgloss.Width(line)-2))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLogs(width, rows int) string {
	if len(a.logs) == 0 {
		return a.dimStyle.Render("waiting for events")
	}

	start := 0
	if len(a.logs) > rows {
		start = len(a.logs) - rows
	}

	lines := make([]string, 0, rows)
	for _, l := range a.logs[start:] {
		ts := a.dimStyle.Render(l.at.Format("15:04:05"))
		text := truncate(l.text, width-9)
		switch l.level {
		case levelWarn:
			text = a.warnStyle.Render(text)
		case levelError:
			text = a.failedStyle.Render(text)
		}
		lines = append(lines, ts+" "+text)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderFooter() string {
	key := func(k, what string) string {
		return a.keyStyle.Render(k) + " " + a.dimStyle.Render(what)
	}
	if a.done {
		if a.err != nil {
			return " " + a.failedStyle.Render("Run failed: "+a.err.Error()) + "  " + key("q", "exit")
		}
		return " " + a.doneStyle.Render("Run complete.") + "  " + key("q", "exit")
	}
	pause := "pause"
	if a.paused {
		pause = "resume"
	}
	return " " + strings.Join([]string{key("q", "stop"), key("p", pause), key("ctrl+c", "kill")}, "  ")
}

// shortID keeps generated IDs readable; short custom IDs are unchanged.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
