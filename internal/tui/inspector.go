// Package tui renders a read-only terminal view of a bootstrapped engine.
//
// It follows the bubbletea model: Update folds messages into state and View
// renders that state to a string.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/orchestra/internal/bootstrap"
	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/engine/definition"
)

const defaultRefreshInterval = 3 * time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	stateStyles = map[bootstrap.State]lipgloss.Style{
		bootstrap.StateReady:  lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		bootstrap.StateFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
	}
	defaultStateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
)

// Source is the slice of the bootstrapper the inspector reads.
type Source interface {
	State() bootstrap.State
	PoolSize() int
	RepositoryQueryService(ctx context.Context) (engine.RepositoryQueryService, error)
	ProcessQueryService(ctx context.Context) (engine.ProcessQueryService, error)
}

// Option customizes the inspector.
type Option func(*Inspector)

// WithRefreshInterval sets how often the inspector polls the engine. Zero
// disables polling.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Inspector) {
		m.interval = d
	}
}

type snapshotMsg struct {
	defs      []*definition.ProcessDefinition
	instances []*engine.ProcessInstance
	state     bootstrap.State
	poolSize  int
	err       error
}

type refreshMsg struct{}

type definitionItem struct {
	def     *definition.ProcessDefinition
	running int
	total   int
}

func (i definitionItem) Title() string { return i.def.Key() }
func (i definitionItem) Description() string {
	return fmt.Sprintf("%d nodes · %d instances (%d running)", len(i.def.Nodes), i.total, i.running)
}
func (i definitionItem) FilterValue() string { return i.def.ID }

// Inspector lists deployed definitions and the instances started from them.
type Inspector struct {
	source   Source
	ctx      context.Context
	interval time.Duration

	defs      list.Model
	instances []*engine.ProcessInstance
	state     bootstrap.State
	poolSize  int
	err       error
	detail    bool
	width     int
	height    int
}

// New builds an inspector over source.
func New(ctx context.Context, source Source, opts ...Option) *Inspector {
	if ctx == nil {
		ctx = context.Background()
	}
	defs := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	defs.Title = "Process definitions"
	defs.SetShowHelp(false)
	m := &Inspector{
		source:   source,
		ctx:      ctx,
		interval: defaultRefreshInterval,
		defs:     defs,
		state:    bootstrap.StateUnconfigured,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Run starts the program on the alternate screen and blocks until quit.
func Run(ctx context.Context, source Source, opts ...Option) error {
	_, err := tea.NewProgram(New(ctx, source, opts...), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func (m *Inspector) Init() tea.Cmd {
	return m.load
}

// load reads a snapshot of the engine. The first load bootstraps the engine.
func (m *Inspector) load() tea.Msg {
	msg := snapshotMsg{}
	repo, err := m.source.RepositoryQueryService(m.ctx)
	if err == nil {
		msg.defs = repo.List()
		var procs engine.ProcessQueryService
		procs, err = m.source.ProcessQueryService(m.ctx)
		if err == nil {
			msg.instances = procs.List()
		}
	}
	msg.err = err
	msg.state = m.source.State()
	msg.poolSize = m.source.PoolSize()
	return msg
}

func (m *Inspector) tick() tea.Cmd {
	if m.interval <= 0 {
		return nil
	}
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m *Inspector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.defs.SetSize(max(20, msg.Width-4), max(5, msg.Height-8))
		return m, nil
	case snapshotMsg:
		m.apply(msg)
		if msg.state == bootstrap.StateFailed {
			return m, nil
		}
		return m, m.tick()
	case refreshMsg:
		return m, m.load
	case tea.KeyMsg:
		if m.defs.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			if _, ok := m.defs.SelectedItem().(definitionItem); ok {
				m.detail = !m.detail
			}
			return m, nil
		case "esc":
			if m.detail {
				m.detail = false
				return m, nil
			}
		case "r":
			return m, m.load
		}
	}
	var cmd tea.Cmd
	m.defs, cmd = m.defs.Update(msg)
	return m, cmd
}

func (m *Inspector) apply(msg snapshotMsg) {
	m.state = msg.state
	m.poolSize = msg.poolSize
	m.err = msg.err
	if msg.err != nil {
		return
	}
	m.instances = msg.instances
	total := map[string]int{}
	running := map[string]int{}
	for _, inst := range msg.instances {
		key := definition.Key(inst.DefinitionID, inst.Version)
		total[key]++
		if inst.Status == engine.InstanceRunning {
			running[key]++
		}
	}
	items := make([]list.Item, 0, len(msg.defs))
	for _, def := range msg.defs {
		items = append(items, definitionItem{def: def, total: total[def.Key()], running: running[def.Key()]})
	}
	m.defs.SetItems(items)
}

func (m *Inspector) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("⬡ ORCHESTRA"),
		"  ",
		m.stateLabel(),
		"  ",
		mutedStyle.Render(fmt.Sprintf("pool %d", m.poolSize)),
	)
	var body string
	switch {
	case m.err != nil:
		body = errorStyle.Render(m.err.Error())
	case m.detail:
		body = m.renderDetail()
	case len(m.defs.Items()) == 0:
		body = mutedStyle.Render("No process definitions deployed.")
	default:
		body = m.defs.View()
	}
	footer := mutedStyle.Render("enter details · r refresh · / filter · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, boxStyle.Render(body), footer)
}

func (m *Inspector) stateLabel() string {
	style, ok := stateStyles[m.state]
	if !ok {
		style = defaultStateStyle
	}
	return style.Render(string(m.state))
}

func (m *Inspector) renderDetail() string {
	item, ok := m.defs.SelectedItem().(definitionItem)
	if !ok {
		return ""
	}
	def := item.def
	lines := []string{titleStyle.Render(def.Key())}
	if def.Name != "" {
		lines = append(lines, detailStyle.Render(def.Name))
	}
	lines = append(lines, "", mutedStyle.Render("Activities"))
	for _, node := range def.Nodes {
		line := fmt.Sprintf("  %-17s %s", node.Kind, node.ID)
		if node.Class != "" {
			line += "  → " + node.Class
		}
		lines = append(lines, detailStyle.Render(line))
	}
	var insts []*engine.ProcessInstance
	for _, inst := range m.instances {
		if inst.DefinitionID == def.ID && inst.Version == def.Version {
			insts = append(insts, inst)
		}
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].StartedAt.After(insts[j].StartedAt) })
	lines = append(lines, "", mutedStyle.Render(fmt.Sprintf("Instances (%d)", len(insts))))
	for _, inst := range insts {
		line := fmt.Sprintf("  %-10s %s", inst.Status, inst.ID)
		if inst.Error != "" {
			line += "  " + inst.Error
		}
		lines = append(lines, detailStyle.Render(line))
	}
	return strings.Join(lines, "\n")
}
