package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/runtime-pool/pool"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	instanceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateOverview modelState = iota
	stateCall
	stateShowResult
)

// instanceRow is one refresh-tick snapshot of an instance's counters.
type instanceRow struct {
	index        int
	users        int64
	materialized int
	liveValues   int64
}

type consoleModel struct {
	err      error
	cfg      fileConfig
	pool     *pool.Pool
	rows     []instanceRow
	movables []*pool.Movable
	result   string
	inputs   []textinput.Model
	focusIdx int
	state    modelState
}

type poolReadyMsg struct {
	err  error
	pool *pool.Pool
}

type tickMsg time.Time

type callResultMsg struct {
	err    error
	result string
}

func newConsoleModel(cfg fileConfig) *consoleModel {
	return &consoleModel{cfg: cfg, state: stateOverview}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(m.buildPool, tick())
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *consoleModel) buildPool() tea.Msg {
	p, err := buildPool(context.Background(), m.cfg)
	return poolReadyMsg{pool: p, err: err}
}

func (m *consoleModel) refresh() {
	if m.pool == nil {
		return
	}
	ctx := context.Background()
	m.rows = m.rows[:0]
	for i := 0; i < m.pool.Size(); i++ {
		inst := m.pool.Instance(i)
		live, err := inst.LiveValues(ctx)
		if err != nil {
			live = -1
		}
		m.rows = append(m.rows, instanceRow{
			index:        i,
			users:        m.pool.Balancer().Users(i),
			materialized: inst.Materialized(),
			liveValues:   live,
		})
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateCall && msg.String() == "q" {
				break // let the text inputs have the letter
			}
			m.teardown()
			return m, tea.Quit

		case "c":
			if m.state == stateOverview && m.pool != nil {
				m.prepareCallInputs()
				m.state = stateCall
				return m, nil
			}

		case "m":
			if m.state == stateOverview && m.pool != nil {
				return m, m.mintMovable
			}

		case "u":
			if m.state == stateOverview && len(m.movables) > 0 {
				return m, m.dropMovable
			}

		case "tab":
			if m.state == stateCall && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "enter":
			switch m.state {
			case stateCall:
				return m, m.callFunction
			case stateShowResult:
				m.state = stateOverview
				m.result = ""
				m.err = nil
			}

		case "esc":
			switch m.state {
			case stateCall:
				m.state = stateOverview
				m.inputs = nil
			case stateShowResult:
				m.state = stateOverview
				m.result = ""
				m.err = nil
			}
		}

	case poolReadyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.pool = msg.pool
		m.refresh()

	case tickMsg:
		m.refresh()
		return m, tick()

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateCall {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *consoleModel) teardown() {
	ctx := context.Background()
	for _, mov := range m.movables {
		mov.Close()
	}
	m.movables = nil
	if m.pool != nil {
		_ = m.pool.Close(ctx)
		m.pool = nil
	}
}

func (m *consoleModel) prepareCallInputs() {
	labels := []struct{ prompt, placeholder string }{
		{"module: ", pool.ArgumentNamesModule},
		{"function: ", "getArgumentNames"},
		{"args: ", "comma-separated, optional"},
	}
	m.inputs = make([]textinput.Model, len(labels))
	for i, l := range labels {
		ti := textinput.New()
		ti.Prompt = l.prompt
		ti.Placeholder = l.placeholder
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *consoleModel) callFunction() tea.Msg {
	ctx := context.Background()

	module := m.inputs[0].Value()
	fn := m.inputs[1].Value()
	if module == "" || fn == "" {
		return callResultMsg{err: fmt.Errorf("module and function are required")}
	}

	var args []any
	if raw := m.inputs[2].Value(); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}

	sess := m.pool.AcquireSession()
	defer sess.Close()

	f, err := sess.Lookup(ctx, module, fn)
	if err != nil {
		return callResultMsg{err: err}
	}
	result, err := f.Call(ctx, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: fmt.Sprintf("instance %d: %v", sess.Instance().Index(), result)}
}

// mintMovable serializes a small probe value so the counters in the
// overview have something to move.
func (m *consoleModel) mintMovable() tea.Msg {
	ctx := context.Background()

	sess := m.pool.AcquireSession()
	defer sess.Close()

	mov, err := sess.CreateMovable(ctx, fmt.Sprintf("probe-%d", len(m.movables)))
	if err != nil {
		return callResultMsg{err: err}
	}
	if _, err := sess.FromMovable(ctx, mov); err != nil {
		mov.Close()
		return callResultMsg{err: err}
	}
	m.movables = append(m.movables, mov)
	return callResultMsg{result: fmt.Sprintf("movable %d materialized on instance %d",
		mov.ID(), sess.Instance().Index())}
}

func (m *consoleModel) dropMovable() tea.Msg {
	mov := m.movables[len(m.movables)-1]
	m.movables = m.movables[:len(m.movables)-1]
	id := mov.ID()
	mov.Close()
	return callResultMsg{result: fmt.Sprintf("movable %d unloaded everywhere", id)}
}

func (m *consoleModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.pool == nil {
		return "Starting pool..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Runtime Pool"))
	b.WriteString(fmt.Sprintf(" %d instances, %d movables\n\n", m.pool.Size(), len(m.movables)))

	switch m.state {
	case stateOverview:
		b.WriteString(fmt.Sprintf("  %-10s %-10s %-14s %s\n",
			dimStyle.Render("instance"), dimStyle.Render("sessions"),
			dimStyle.Render("materialized"), dimStyle.Render("live values")))
		for _, row := range m.rows {
			live := "n/a"
			if row.liveValues >= 0 {
				live = fmt.Sprintf("%d", row.liveValues)
			}
			b.WriteString(instanceStyle.Render(fmt.Sprintf("  %-10d %-10d %-14d %s\n",
				row.index, row.users, row.materialized, live)))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("c call • m mint movable • u unload movable • q quit"))

	case stateCall:
		b.WriteString("Call a function:\n\n")
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(cfg fileConfig) error {
	p := tea.NewProgram(newConsoleModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
