package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/malaphor/pkg/pipeline"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	pathBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#FFFF00")).
			Padding(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	summaryView view = iota
	pathsView
	entitiesView
	runsView
)

var viewNames = []string{"Summary", "Paths", "Entities", "Runs"}

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Enter    key.Binding
	Outliers key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	ShiftTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev view"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "open run"),
	),
	Outliers: key.NewBinding(
		key.WithKeys("o"),
		key.WithHelp("o", "outliers only"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Enter, k.Outliers, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ShiftTab, k.Enter},
		{k.Outliers, k.Quit},
	}
}

// runStore is the part of report.Archive the browser needs.
type runStore interface {
	List() ([]string, error)
	Load(runID string) (*pipeline.Result, error)
}

type model struct {
	result  *pipeline.Result
	archive runStore

	currentView  view
	views        int
	outliersOnly bool

	pathTable   table.Model
	entityTable table.Model
	runTable    table.Model
	help        help.Model
	keys        keyMap

	width      int
	height     int
	message    string
	messageErr bool
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// initialModel browses res, or the runs of archive when res is nil.
func initialModel(res *pipeline.Result, archive runStore) model {
	m := model{
		archive: archive,
		views:   3,
		pathTable: newTable([]table.Column{
			{Title: "Rank", Width: 5},
			{Title: "Score", Width: 9},
			{Title: "Path", Width: 80},
		}),
		entityTable: newTable([]table.Column{
			{Title: "Entity", Width: 24},
			{Title: "Type", Width: 16},
			{Title: "Anomaly", Width: 9},
			{Title: "Outlier", Width: 7},
		}),
		runTable: newTable([]table.Column{
			{Title: "Run", Width: 40},
		}),
		help: help.New(),
		keys: keys,
	}
	if archive != nil {
		m.views = 4
		m.refreshRuns()
		if res == nil {
			m.currentView = runsView
		}
	}
	if res != nil {
		m.setResult(res)
	}
	return m
}

func (m *model) setResult(res *pipeline.Result) {
	m.result = res
	m.pathTable.SetRows(pathRows(res))
	m.pathTable.SetCursor(0)
	m.entityTable.SetRows(entityRows(res, m.outliersOnly))
	m.entityTable.SetCursor(0)
}

func (m *model) refreshRuns() {
	ids, err := m.archive.List()
	if err != nil {
		m.setError(err)
		return
	}
	rows := make([]table.Row, len(ids))
	for i, id := range ids {
		rows[i] = table.Row{id}
	}
	m.runTable.SetRows(rows)
}

func (m *model) setError(err error) {
	m.message = err.Error()
	m.messageErr = true
}

func pathRows(res *pipeline.Result) []table.Row {
	rows := make([]table.Row, len(res.RiskyPaths))
	for i, p := range res.RiskyPaths {
		rows[i] = table.Row{fmt.Sprintf("%d", i+1), fmt.Sprintf("%.4f", p.Score), p.PathWithTypes}
	}
	return rows
}

func entityRows(res *pipeline.Result, outliersOnly bool) []table.Row {
	nodes := res.TopAnomalies(len(res.Nodes))
	if outliersOnly {
		nodes = res.Outliers()
	}
	rows := make([]table.Row, 0, len(nodes))
	for _, n := range nodes {
		score, outlier := "-", ""
		if n.AnomalyScore != nil {
			score = fmt.Sprintf("%.4f", *n.AnomalyScore)
		}
		if n.Prediction != nil && *n.Prediction == -1 {
			outlier = "yes"
		}
		rows = append(rows, table.Row{n.ID, n.Type, score, outlier})
	}
	return rows
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % view(m.views)
			return m, nil

		case key.Matches(msg, m.keys.ShiftTab):
			m.currentView = (m.currentView + view(m.views) - 1) % view(m.views)
			return m, nil

		case key.Matches(msg, m.keys.Outliers) && m.currentView == entitiesView && m.result != nil:
			m.outliersOnly = !m.outliersOnly
			m.entityTable.SetRows(entityRows(m.result, m.outliersOnly))
			m.entityTable.SetCursor(0)
			return m, nil

		case key.Matches(msg, m.keys.Enter) && m.currentView == runsView:
			m.openSelectedRun()
			return m, nil
		}
	}

	switch m.currentView {
	case pathsView:
		m.pathTable, cmd = m.pathTable.Update(msg)
	case entitiesView:
		m.entityTable, cmd = m.entityTable.Update(msg)
	case runsView:
		m.runTable, cmd = m.runTable.Update(msg)
	}
	return m, cmd
}

func (m *model) openSelectedRun() {
	row := m.runTable.SelectedRow()
	if row == nil {
		return
	}
	res, err := m.archive.Load(row[0])
	if err != nil {
		m.setError(err)
		return
	}
	m.setResult(res)
	m.currentView = summaryView
	m.message = fmt.Sprintf("Loaded run %s", res.RunID)
	m.messageErr = false
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("Malaphor - risky path browser"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch {
	case m.currentView == runsView:
		s.WriteString(m.renderRuns())
	case m.result == nil:
		s.WriteString(contentStyle.Render(helpStyle.Render("No run loaded. Open one from the Runs view.")))
	case m.currentView == summaryView:
		s.WriteString(m.renderSummary())
	case m.currentView == pathsView:
		s.WriteString(m.renderPaths())
	case m.currentView == entitiesView:
		s.WriteString(m.renderEntities())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(errorStyle.Render("x " + m.message))
		} else {
			s.WriteString(successStyle.Render(m.message))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func (m model) renderTabs() string {
	var tabs []string
	for i := 0; i < m.views; i++ {
		if view(i) == m.currentView {
			tabs = append(tabs, activeTabStyle.Render(viewNames[i]))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(viewNames[i]))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m model) renderSummary() string {
	res := m.result
	truncated := "no"
	if res.Truncated {
		truncated = "yes (" + res.TruncationReason + ")"
	}
	stats := fmt.Sprintf(`Run
Id:          %s
Started:     %s
Duration:    %d ms

Graph
Entities:    %d
Events:      %d
Outliers:    %d
Conflicts:   %d`,
		res.RunID,
		res.StartedAt.Format("2006-01-02 15:04:05"),
		res.DurationMillis,
		res.Stats.Entities,
		res.Stats.Events,
		res.Stats.Outliers,
		res.Stats.TypeConflicts,
	)
	search := fmt.Sprintf(`Search
Starts:      %d
Ends:        %d
Pairs:       %d / %d
Paths:       %d
Ranked:      %d
Truncated:   %s`,
		res.Stats.StartCandidates,
		res.Stats.EndCandidates,
		res.Stats.PairsSearched,
		res.Stats.PairsTotal,
		res.PathsFound,
		len(res.RiskyPaths),
		truncated,
	)

	boxes := lipgloss.JoinHorizontal(lipgloss.Top, statsBoxStyle.Render(stats), statsBoxStyle.Render(search))
	if len(res.RiskyPaths) == 0 {
		return contentStyle.Render(boxes)
	}
	top := res.RiskyPaths[0]
	topBox := pathBoxStyle.Render(fmt.Sprintf("Riskiest path (score %.4f)\n\n%s", top.Score, top.PathWithTypes))
	return contentStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxes, "", topBox))
}

func (m model) renderPaths() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("Risky paths (%d)", len(m.result.RiskyPaths))))
	s.WriteString("\n\n")
	s.WriteString(m.pathTable.View())
	return contentStyle.Render(s.String())
}

func (m model) renderEntities() string {
	title := "Entities by anomaly score"
	if m.outliersOnly {
		title = "Predicted outliers"
	}
	var s strings.Builder
	s.WriteString(headerStyle.Render(title))
	s.WriteString("\n\n")
	s.WriteString(m.entityTable.View())
	return contentStyle.Render(s.String())
}

func (m model) renderRuns() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Archived runs"))
	s.WriteString("\n\n")
	if len(m.runTable.Rows()) == 0 {
		s.WriteString(helpStyle.Render("The archive is empty."))
	} else {
		s.WriteString(m.runTable.View())
	}
	return contentStyle.Render(s.String())
}
