// Package viewer implements the detail page TUI: pick a sensor and a
// date-time range, then browse the backend's readings for it as a chart
// with a time scrubber and a paginated table.
package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/paginator"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/chart"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/filter"
	"github.com/luki/sensordash/internal/history"
	"github.com/luki/sensordash/internal/rangeq"
	"github.com/luki/sensordash/internal/sensor"
	"github.com/luki/sensordash/internal/store"
)

const chartHeight = 10

// Run launches the detail page and blocks until the user quits or ctx is
// done.
func Run(ctx context.Context, m Model) error {
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// ── Color palette ────────────────────────────────────────────────────

var (
	colorTitleBg  = lipgloss.Color("17")
	colorTitleFg  = lipgloss.Color("51")
	colorBorder   = lipgloss.Color("62")
	colorFocus    = lipgloss.Color("214")
	colorName     = lipgloss.Color("147")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorOk       = lipgloss.Color("78")
	colorCrit     = lipgloss.Color("196")
)

// ── Messages ─────────────────────────────────────────────────────────

type rangeResultMsg struct{ result rangeq.Result }

type exportedMsg struct {
	path string
	err  error
}

// ── Model ────────────────────────────────────────────────────────────

// Form fields in focus order.
const (
	fieldSensor = iota
	fieldStartDate
	fieldStartClock
	fieldEndDate
	fieldEndClock
	fieldResults
	fieldCount
)

// Model is the BubbleTea model for the detail page.
type Model struct {
	filter  filter.State
	session *rangeq.Session
	logger  *slog.Logger
	dataDir string

	sensors   []catalog.ID
	sensorIdx int // -1: none selected
	inputs    [4]textinput.Model
	focus     int

	pager  paginator.Model
	cursor int // scrub position in the chronological series
	points []history.Point
	notice string

	scroll int
	width  int
	height int
}

// Option configures a Model.
type Option func(*Model)

func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithDataDir sets where exports are written.
func WithDataDir(dir string) Option {
	return func(m *Model) { m.dataDir = dir }
}

// WithPageSize sets the number of table rows per page.
func WithPageSize(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.pager.PerPage = n
		}
	}
}

// WithSelection preselects a sensor and a day.
func WithSelection(id catalog.ID, day string) Option {
	return func(m *Model) {
		for i, s := range m.sensors {
			if s == id {
				m.sensorIdx = i
				m.filter.SetSensor(id)
			}
		}
		m.inputs[0].SetValue(day)
		m.inputs[2].SetValue(day)
	}
}

// New creates the detail page model around s.
func New(s *rangeq.Session, opts ...Option) Model {
	m := Model{
		session:   s,
		logger:    slog.New(slog.DiscardHandler),
		dataDir:   store.DefaultDir(),
		sensors:   catalog.IDs(),
		sensorIdx: -1,
		pager:     newPager(),
	}
	m.inputs = [4]textinput.Model{
		newInput("YYYY-MM-DD", ""),
		newInput("HH:MM", filter.DefaultStartClock),
		newInput("YYYY-MM-DD", ""),
		newInput("HH:MM", filter.DefaultEndClock),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func newInput(placeholder, value string) textinput.Model {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = placeholder
	ti.CharLimit = len(placeholder)
	ti.Width = len(placeholder)
	ti.SetValue(value)
	return ti
}

func newPager() paginator.Model {
	p := paginator.New()
	p.Type = paginator.Arabic
	p.PerPage = 10
	p.KeyMap = paginator.KeyMap{
		PrevPage: key.NewBinding(key.WithKeys("[", "pgup")),
		NextPage: key.NewBinding(key.WithKeys("]", "pgdown")),
	}
	return p
}

// Close cancels any in-flight range query.
func (m Model) Close() {
	m.session.Close()
}

// ── Init / Update ────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case rangeResultMsg:
		if m.session.Resolve(msg.result) {
			m.loadResult()
		}

	case exportedMsg:
		if msg.err != nil {
			m.logger.Error("export failed", "err", msg.err)
			m.notice = "Export failed: " + msg.err.Error()
		} else {
			m.logger.Info("range exported", "path", msg.path)
			m.notice = "Exported to " + msg.path
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.Close()
		return m, tea.Quit
	case "tab", "down":
		return m, m.setFocus((m.focus + 1) % fieldCount)
	case "shift+tab", "up":
		return m, m.setFocus((m.focus + fieldCount - 1) % fieldCount)
	case "enter":
		return m, m.commit()
	case "ctrl+x":
		return m, m.clear()
	case "ctrl+e":
		return m, m.export()
	}

	switch {
	case m.focus == fieldSensor:
		switch msg.String() {
		case "q":
			m.Close()
			return m, tea.Quit
		case "left", "h":
			m.cycleSensor(-1)
		case "right", "l", " ":
			m.cycleSensor(1)
		}
		return m, nil

	case m.focus == fieldResults:
		return m.handleResultsKey(msg)
	}

	i := m.focus - fieldStartDate
	var cmd tea.Cmd
	m.inputs[i], cmd = m.inputs[i].Update(msg)
	return m, cmd
}

func (m Model) handleResultsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.Close()
		return m, tea.Quit
	case "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}
	case "right", "l":
		if m.cursor < len(m.points)-1 {
			m.cursor++
		}
	case "H":
		m.cursor = max(m.cursor-60, 0)
	case "L":
		m.cursor = max(min(m.cursor+60, len(m.points)-1), 0)
	case "home":
		m.cursor = 0
	case "end":
		m.cursor = max(len(m.points)-1, 0)
	case "j":
		m.scroll++
	case "k":
		if m.scroll > 0 {
			m.scroll--
		}
	case "e":
		return m, m.export()
	default:
		var cmd tea.Cmd
		m.pager, cmd = m.pager.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) setFocus(f int) tea.Cmd {
	m.focus = f
	var cmd tea.Cmd
	for i := range m.inputs {
		if i == f-fieldStartDate {
			cmd = m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
	return cmd
}

func (m *Model) cycleSensor(step int) {
	n := len(m.sensors)
	switch {
	case m.sensorIdx < 0 && step > 0:
		m.sensorIdx = 0
	case m.sensorIdx < 0:
		m.sensorIdx = n - 1
	default:
		m.sensorIdx = (m.sensorIdx + step + n) % n
	}
	m.filter.SetSensor(m.sensors[m.sensorIdx])
}

// commit validates the form and, when the filter is complete, starts the
// range query.
func (m *Model) commit() tea.Cmd {
	m.notice = ""
	m.filter.SetStart(m.instant(0, 1, filter.DefaultStartClock))
	m.filter.SetEnd(m.instant(2, 3, filter.DefaultEndClock))

	f, err := m.filter.Commit()
	if err != nil {
		m.logger.Debug("filter rejected", "err", err)
		return nil
	}
	return m.apply(f)
}

// instant parses one date/clock pair of the form. Anything unparsable is
// treated as not selected.
func (m *Model) instant(dateIdx, clockIdx int, defaultClock string) time.Time {
	date := m.inputs[dateIdx].Value()
	clock := m.inputs[clockIdx].Value()
	if strings.TrimSpace(clock) == "" {
		clock = defaultClock
	}
	if strings.TrimSpace(date) == "" {
		return time.Time{}
	}
	t, err := filter.ParseInstant(date, clock)
	if err != nil {
		m.logger.Debug("invalid form input", "err", err)
		return time.Time{}
	}
	return t
}

func (m *Model) clear() tea.Cmd {
	m.apply(m.filter.Clear())
	m.sensorIdx = -1
	m.notice = ""
	m.inputs[0].SetValue("")
	m.inputs[1].SetValue(filter.DefaultStartClock)
	m.inputs[2].SetValue("")
	m.inputs[3].SetValue(filter.DefaultEndClock)
	return nil
}

func (m *Model) apply(f filter.Filter) tea.Cmd {
	m.points = nil
	m.cursor = 0
	m.pager.Page = 0
	m.pager.TotalPages = 1

	t, ok := m.session.Apply(f)
	if !ok {
		return nil
	}
	s := m.session
	return func() tea.Msg {
		return rangeResultMsg{result: s.Fetch(t)}
	}
}

func (m *Model) loadResult() {
	m.points = chart.Points(m.session.Chronological())
	m.cursor = max(len(m.points)-1, 0)
	m.pager.Page = 0
	m.pager.SetTotalPages(len(m.session.Rows()))
}

func (m *Model) export() tea.Cmd {
	if m.session.Status() != rangeq.Ready {
		m.notice = "Nothing to export."
		return nil
	}
	id := m.session.Filter().Sensor
	rows := m.session.Rows()
	dir := m.dataDir
	return func() tea.Msg {
		path, err := store.ExportRange(dir, id, rows, time.Now())
		return exportedMsg{path: path, err: err}
	}
}

// ── View ─────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "  Loading..."
	}

	contentWidth := max(m.width-2, 40)

	var sections []string
	sections = append(sections, m.renderTitle(contentWidth))
	sections = append(sections, m.renderForm(contentWidth))
	sections = append(sections, m.renderStatus(contentWidth))

	if m.session.Status() == rangeq.Ready {
		sections = append(sections, m.renderChart(contentWidth))
		sections = append(sections, m.renderTable(contentWidth))
	}

	sections = append(sections, m.renderFooter(contentWidth))

	content := lipgloss.JoinVertical(lipgloss.Left, sections...)

	lines := strings.Split(content, "\n")
	visibleLines := max(m.height, 5)
	maxScroll := max(len(lines)-visibleLines, 0)
	start := min(m.scroll, maxScroll)
	end := min(start+visibleLines, len(lines))

	return strings.Join(lines[start:end], "\n")
}

func (m Model) renderTitle(width int) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("SENSOR DETAIL")

	right := ""
	if f := m.session.Filter(); f.Enabled() {
		right = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true).
			Render(catalog.Describe(f.Sensor).DisplayName) +
			lipgloss.NewStyle().
				Foreground(colorDim).
				Render(fmt.Sprintf("  %s .. %s", filter.FormatInstant(f.Start), filter.FormatInstant(f.End)))
	}

	gap := max(width-lipgloss.Width(logo)-lipgloss.Width(right)-4, 1)

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m Model) renderForm(width int) string {
	labelS := lipgloss.NewStyle().Foreground(colorDim)
	field := func(idx int, body string) string {
		style := lipgloss.NewStyle().Foreground(colorLabel)
		if m.focus == idx {
			style = style.Foreground(colorFocus).Underline(true)
		}
		return style.Render(body)
	}

	sensorName := "‹ select a sensor ›"
	if m.sensorIdx >= 0 {
		sensorName = "‹ " + catalog.Describe(m.sensors[m.sensorIdx]).DisplayName + " ›"
	}

	row := labelS.Render("Sensor ") + field(fieldSensor, sensorName) +
		labelS.Render("   From ") + field(fieldStartDate, m.inputs[0].View()) + " " + field(fieldStartClock, m.inputs[1].View()) +
		labelS.Render("   To ") + field(fieldEndDate, m.inputs[2].View()) + " " + field(fieldEndClock, m.inputs[3].View())

	lines := []string{row}
	if msg := m.filter.Message(); msg != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(colorCrit).Render(msg))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderStatus keeps no-filter, empty and failed visibly distinct.
func (m Model) renderStatus(width int) string {
	style := lipgloss.NewStyle().Padding(0, 1).Width(width)
	switch m.session.Status() {
	case rangeq.Failed:
		style = style.Foreground(colorCrit).Bold(true)
	case rangeq.Empty:
		style = style.Foreground(lipgloss.Color("214"))
	case rangeq.Ready:
		style = style.Foreground(colorOk)
	default:
		style = style.Foreground(colorDim)
	}

	text := m.session.Message()
	if m.notice != "" {
		text += "  " + m.notice
	}
	return style.Render(text)
}

func (m Model) renderChart(width int) string {
	desc := catalog.Describe(m.session.Filter().Sensor)
	inner := width - 4

	var rows []string
	if len(m.points) == 0 {
		rows = append(rows, lipgloss.NewStyle().Foreground(colorDim).Render("No numeric readings to chart."))
	} else {
		lo, hi := chart.Bounds(m.points, desc)
		rows = append(rows, chart.RenderChart(m.points, inner, chartHeight, lo, hi, desc))
		rows = append(rows, m.renderCursorInfo(inner, desc))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderCursorInfo(width int, desc catalog.Descriptor) string {
	if m.cursor < 0 || m.cursor >= len(m.points) {
		return ""
	}
	p := m.points[m.cursor]

	ts := lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")).
		Bold(true).
		Render(p.Time.Format("2006-01-02 15:04:05"))
	pos := lipgloss.NewStyle().
		Foreground(colorDim).
		Render(fmt.Sprintf("  %d/%d  ", m.cursor+1, len(m.points)))
	val := chart.RenderValue(desc, p.Value)

	barWidth := max(width-lipgloss.Width(ts)-lipgloss.Width(pos)-lipgloss.Width(val)-4, 10)
	return ts + pos + val + "  " + m.renderScrubber(barWidth)
}

func (m Model) renderScrubber(width int) string {
	if len(m.points) == 0 || width <= 0 {
		return ""
	}

	pos := 0
	if len(m.points) > 1 {
		pos = m.cursor * (width - 1) / (len(m.points) - 1)
	}
	pos = min(pos, width-1)

	var sb strings.Builder
	dimS := lipgloss.NewStyle().Foreground(lipgloss.Color("237"))
	curS := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	tickS := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))

	for i := 0; i < width; i++ {
		if i == pos {
			sb.WriteString(curS.Render("◆"))
			continue
		}
		idx := 0
		if len(m.points) > 1 && width > 1 {
			idx = i * (len(m.points) - 1) / (width - 1)
		}
		if idx > 0 && idx < len(m.points) {
			t, prev := m.points[idx].Time, m.points[idx-1].Time
			if !t.IsZero() && !prev.IsZero() && t.Hour() != prev.Hour() {
				sb.WriteString(tickS.Render("│"))
				continue
			}
		}
		sb.WriteString(dimS.Render("─"))
	}

	return sb.String()
}

func (m Model) renderTable(width int) string {
	desc := catalog.Describe(m.session.Filter().Sensor)
	rows := m.session.Rows()
	start, end := m.pager.GetSliceBounds(len(rows))

	headS := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	dimS := lipgloss.NewStyle().Foreground(colorDim)

	lines := []string{
		headS.Width(6).Render("#") + headS.Width(22).Render("fecha_hora") +
			headS.Width(18).Render(desc.DisplayName) + headS.Render("severity"),
		dimS.Render(strings.Repeat("─", width-4)),
	}

	for i := start; i < end; i++ {
		r := rows[i]
		num := dimS.Width(6).Render(fmt.Sprintf("%d", i+1))
		ts := lipgloss.NewStyle().Foreground(colorLabel).Width(22).Render(r.Timestamp)

		value, sev := rawValue(r), ""
		if v, err := r.Number(); err == nil {
			value = chart.RenderValue(desc, v)
			if !desc.IsBinary() {
				sev = classify.SeverityOf(desc, v).String()
			}
		}
		lines = append(lines, num+ts+lipgloss.NewStyle().Width(18).Render(value)+dimS.Render(sev))
	}

	lines = append(lines, dimS.Render(fmt.Sprintf("page %s  (%d rows)", m.pager.View(), len(rows))))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) renderFooter(width int) string {
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	keyS := lipgloss.NewStyle().Foreground(colorLabel)

	keys := dimS.Render("tab") + keyS.Render(":field") +
		dimS.Render("  ←/→") + keyS.Render(":sensor") +
		dimS.Render("  enter") + keyS.Render(":apply") +
		dimS.Render("  ctrl+x") + keyS.Render(":clear") +
		dimS.Render("  h/l") + keyS.Render(":scrub") +
		dimS.Render("  [/]") + keyS.Render(":page") +
		dimS.Render("  ctrl+e") + keyS.Render(":export") +
		dimS.Render("  esc") + keyS.Render(":quit")

	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Width(width).
		Padding(0, 1).
		Render(keys)
}

// ── Helpers ──────────────────────────────────────────────────────────

func rawValue(r sensor.Reading) string {
	s := strings.TrimSpace(string(r.Value))
	if s == "" {
		return "-"
	}
	return s
}
