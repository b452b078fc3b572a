// Package monitor implements the live sensor dashboard TUI: one card per
// sensor with value, trend and severity, refreshed every poll, and a modal
// chart for the selected sensor.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/chart"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/history"
	"github.com/luki/sensordash/internal/poll"
	"github.com/luki/sensordash/internal/sensor"
	"github.com/luki/sensordash/internal/store"
)

const (
	historySize = 600 // 10 minutes at the polling interval
	cardWidth   = 38
	modalHeight = 12
)

// ── Messages ─────────────────────────────────────────────────────────

type tickMsg time.Time

type pollResultMsg struct{ result poll.Result }

// ── Model ────────────────────────────────────────────────────────────

// Model is the BubbleTea model for the live dashboard. The poll session is
// driven from Update only; fetches run as commands and come back as
// pollResultMsg.
type Model struct {
	session *poll.Session
	history *history.Store
	store   *store.DiskStore
	logger  *slog.Logger

	err       error // local failures, e.g. recording
	width     int
	height    int
	scroll    int
	cursor    int
	modal     catalog.ID
	startTime time.Time
	paused    bool
}

// Option configures a Model.
type Option func(*Model)

// WithStore records every new reading to ds.
func WithStore(ds *store.DiskStore) Option {
	return func(m *Model) { m.store = ds }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithHistory seeds the history buffers, e.g. from today's recording.
func WithHistory(rows []store.StoredReading) Option {
	return func(m *Model) {
		for _, r := range rows {
			ts, err := sensor.ParseTimestamp(r.ReadingTime)
			if err != nil {
				ts = r.Time
			}
			m.history.Record(r.Sensor, r.Value, ts)
		}
	}
}

// New creates the live dashboard model around s.
func New(s *poll.Session, opts ...Option) Model {
	m := Model{
		session:   s,
		history:   history.NewStore(historySize),
		logger:    slog.New(slog.DiscardHandler),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Run launches the live dashboard and blocks until the user quits or ctx
// is done.
func Run(ctx context.Context, m Model) error {
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Close stops polling and closes the recorder.
func (m Model) Close() {
	m.session.Close()
	if m.store != nil {
		m.store.Close()
	}
}

// ── Commands ─────────────────────────────────────────────────────────

func tickCmd() tea.Cmd {
	return tea.Tick(poll.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(s *poll.Session, t poll.Ticket) tea.Cmd {
	return func() tea.Msg {
		return pollResultMsg{result: s.Fetch(t)}
	}
}

func (m Model) startPoll() tea.Cmd {
	t, ok := m.session.Tick()
	if !ok {
		return nil
	}
	return fetchCmd(m.session, t)
}

// ── Init / Update ────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startPoll(), tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		if m.paused {
			return m, tickCmd()
		}
		return m, tea.Batch(m.startPoll(), tickCmd())

	case pollResultMsg:
		if !m.session.Apply(msg.result) {
			return m, nil
		}
		if msg.result.Err == nil {
			m.recordFrame(msg.result.Frame)
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.modal != "" {
		switch msg.String() {
		case "q", "ctrl+c":
			m.Close()
			return m, tea.Quit
		case "esc", "enter", "backspace":
			m.modal = ""
		case " ", "p":
			m.paused = !m.paused
		}
		return m, nil
	}

	order := m.order()
	switch msg.String() {
	case "q", "ctrl+c":
		m.Close()
		return m, tea.Quit
	case "left", "h", "shift+tab":
		if m.cursor > 0 {
			m.cursor--
		}
	case "right", "l", "tab":
		if m.cursor < len(order)-1 {
			m.cursor++
		}
	case "up", "k":
		if m.scroll > 0 {
			m.scroll--
		}
	case "down", "j":
		m.scroll++
	case "home":
		m.scroll = 0
		m.cursor = 0
	case "enter":
		if m.cursor < len(order) {
			m.modal = order[m.cursor]
			m.logger.Debug("chart opened", "sensor", m.modal)
		}
	case " ", "p":
		m.paused = !m.paused
	}
	return m, nil
}

// recordFrame feeds the history buffers and the recorder with the
// readings of a newly committed frame.
func (m *Model) recordFrame(f *poll.Frame) {
	states := make([]classify.State, 0, len(f.States))
	for _, id := range f.Order {
		st, ok := f.State(id)
		if !ok {
			continue
		}
		states = append(states, st)
		ts, err := sensor.ParseTimestamp(st.Timestamp)
		if err != nil {
			ts = f.FetchedAt
		}
		m.history.Record(id, st.Latest, ts)
	}

	if n := len(f.Order); m.cursor >= n && n > 0 {
		m.cursor = n - 1
	}

	if m.store == nil {
		return
	}
	if _, err := m.store.Write(states, f.FetchedAt); err != nil {
		if m.err == nil {
			m.logger.Error("recording failed", "err", err)
		}
		m.err = fmt.Errorf("write: %w", err)
		return
	}
	m.err = nil
}

func (m Model) frame() *poll.Frame {
	return m.session.View().Frame
}

func (m Model) order() []catalog.ID {
	if f := m.frame(); f != nil {
		return f.Order
	}
	return nil
}

// ── Color palette ────────────────────────────────────────────────────

var (
	colorTitleBg  = lipgloss.Color("17")
	colorTitleFg  = lipgloss.Color("51")
	colorBorder   = lipgloss.Color("62")
	colorSelected = lipgloss.Color("214")
	colorName     = lipgloss.Color("147")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorOk       = lipgloss.Color("78")
	colorWarn     = lipgloss.Color("220")
	colorHigh     = lipgloss.Color("208")
	colorCrit     = lipgloss.Color("196")
	colorPaused   = lipgloss.Color("196")
)

// ── View ─────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "  Initializing..."
	}

	contentWidth := max(m.width-2, 40)
	v := m.session.View()

	var sections []string
	sections = append(sections, m.renderTitleBar(contentWidth, v))

	if banner := m.renderBanner(contentWidth, v); banner != "" {
		sections = append(sections, banner)
	}

	switch {
	case v.Frame == nil:
		msg := "Waiting for sensor data..."
		if v.LastErr != nil {
			msg = "No data yet. Retrying every second..."
		}
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorDim).
			Width(contentWidth).
			Align(lipgloss.Center).
			Padding(2, 0).
			Render(msg))
	case m.modal != "":
		sections = append(sections, m.renderModal(contentWidth, v.Frame))
	case len(v.Frame.Order) == 0:
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorDim).
			Width(contentWidth).
			Align(lipgloss.Center).
			Padding(2, 0).
			Render("The backend reported no readings."))
	default:
		sections = append(sections, m.renderCards(contentWidth, v.Frame))
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

func (m Model) renderTitleBar(width int, v poll.View) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("SENSOR DASHBOARD")

	dimS := lipgloss.NewStyle().Foreground(colorDim)

	var statusParts []string
	statusParts = append(statusParts, dimS.Render("up "+fmtDuration(time.Since(m.startTime))))

	if v.Frame != nil {
		statusParts = append(statusParts, dimS.Render(fmt.Sprintf("%s #%d", v.Frame.FetchedAt.Format("15:04:05"), v.Frame.Version)))
	}

	if m.paused {
		statusParts = append(statusParts, lipgloss.NewStyle().
			Foreground(colorPaused).
			Bold(true).
			Render("PAUSED"))
	}

	if m.store != nil {
		rec := lipgloss.NewStyle().Foreground(colorCrit).Render("REC") +
			dimS.Render(" "+m.store.Dir())
		statusParts = append(statusParts, rec)
	}

	sep := dimS.Render(" │ ")
	right := strings.Join(statusParts, sep)

	gap := max(width-lipgloss.Width(logo)-lipgloss.Width(right)-4, 1)

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

// renderBanner shows the last poll error. Data on screen stays visible
// and is marked stale.
func (m Model) renderBanner(width int, v poll.View) string {
	var text string
	switch {
	case v.LastErr != nil && v.Frame != nil:
		text = fmt.Sprintf(" Backend unavailable, showing data from %s: %v",
			v.Frame.FetchedAt.Format("15:04:05"), v.LastErr)
	case v.LastErr != nil:
		text = fmt.Sprintf(" Backend unavailable: %v", v.LastErr)
	case m.err != nil:
		text = fmt.Sprintf(" ERROR: %v", m.err)
	default:
		return ""
	}
	return lipgloss.NewStyle().
		Foreground(colorCrit).
		Bold(true).
		Width(width).
		Padding(0, 1).
		Render(truncate(text, width-2))
}

func (m Model) renderCards(totalWidth int, f *poll.Frame) string {
	cols := max(totalWidth/(cardWidth+2), 1)

	var rows []string
	var row []string
	for i, id := range f.Order {
		row = append(row, m.renderCard(id, f, i == m.cursor))
		if len(row) == cols {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderCard(id catalog.ID, f *poll.Frame, selected bool) string {
	desc := catalog.Describe(id)
	inner := cardWidth - 4

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	valS := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))

	name := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorName).
		Render(truncate(desc.DisplayName, inner-10))

	var lines []string
	st, ok := f.State(id)
	if !ok {
		lines = append(lines,
			name,
			lipgloss.NewStyle().Foreground(colorHigh).Render("invalid reading"),
			dimS.Render(truncate(f.Entries[id].Latest.Timestamp, inner)),
		)
	} else {
		header := name
		if badge := severityBadge(st.Severity); badge != "" {
			gap := max(inner-lipgloss.Width(name)-lipgloss.Width(badge), 1)
			header = name + strings.Repeat(" ", gap) + badge
		}

		value := chart.RenderValue(desc, st.Latest)
		if arrow := trendArrow(st.Trend); arrow != "" {
			value += " " + arrow
		}
		lines = append(lines, header, value, dimS.Render(truncate(st.Timestamp, inner)))

		if hist := m.history.Get(id); hist != nil && hist.Len() > 0 && !desc.IsBinary() {
			pts := hist.LastNPoints(inner)
			lo, hi := rangeFor(hist, desc)
			lines = append(lines, chart.RenderSparklinePoints(pts, inner, lo, hi, desc))
			lines = append(lines,
				dimS.Render("avg")+valS.Render(fmt.Sprintf("%6.1f", hist.Avg()))+
					dimS.Render(" lo")+valS.Render(fmt.Sprintf("%6.1f", hist.Low))+
					dimS.Render(" pk")+valS.Render(fmt.Sprintf("%6.1f", hist.Peak)))
		}
	}

	border := colorBorder
	if selected {
		border = colorSelected
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(cardWidth).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderModal draws the selected sensor's chart from the current frame, so
// it follows every poll.
func (m Model) renderModal(width int, f *poll.Frame) string {
	desc := catalog.Describe(m.modal)
	inner := width - 4

	title := lipgloss.NewStyle().Bold(true).Foreground(colorName).Render(desc.DisplayName)
	dimS := lipgloss.NewStyle().Foreground(colorDim)

	var rows []string
	st, ok := f.State(m.modal)
	pts := chart.Points(f.Series(m.modal))

	switch {
	case !f.Has(m.modal):
		rows = append(rows, title, dimS.Render("No readings for this sensor in the latest poll."))
	case !ok || len(pts) == 0:
		rows = append(rows, title, lipgloss.NewStyle().Foreground(colorHigh).Render("Latest reading is not a valid number."))
	default:
		header := title + "  " + chart.RenderValue(desc, st.Latest)
		if arrow := trendArrow(st.Trend); arrow != "" {
			header += " " + arrow
		}
		if badge := severityBadge(st.Severity); badge != "" {
			header += "  " + badge
		}
		rows = append(rows, header, dimS.Render(fmt.Sprintf("%d readings, last %s", len(pts), st.Timestamp)), "")

		lo, hi := chart.Bounds(pts, desc)
		rows = append(rows, chart.RenderChart(pts, inner, modalHeight, lo, hi, desc))

		if desc.HasThresholds() {
			scale := chart.RenderThresholdScale(st.Latest, lo, hi, desc, inner-8)
			rows = append(rows, "", strings.Repeat(" ", 8)+scale, strings.Repeat(" ", 8)+thresholdTags(desc))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(colorSelected).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderFooter(width int) string {
	okS := lipgloss.NewStyle().Foreground(colorOk).Render("██")
	warnS := lipgloss.NewStyle().Foreground(colorWarn).Render("██")
	highS := lipgloss.NewStyle().Foreground(colorHigh).Render("██")
	critS := lipgloss.NewStyle().Foreground(colorCrit).Render("██")
	tickS := lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Render("│")

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	keyS := lipgloss.NewStyle().Foreground(colorLabel)
	legend := okS + dimS.Render(" ok ") +
		warnS + dimS.Render(" near ") +
		highS + dimS.Render(" warn ") +
		critS + dimS.Render(" crit ") +
		tickS + dimS.Render(" 1min")

	var keys string
	if m.modal != "" {
		keys = dimS.Render("esc") + keyS.Render(":close") +
			dimS.Render("  p") + keyS.Render(":pause") +
			dimS.Render("  q") + keyS.Render(":quit")
	} else {
		keys = dimS.Render("h/l") + keyS.Render(":select") +
			dimS.Render("  enter") + keyS.Render(":chart") +
			dimS.Render("  j/k") + keyS.Render(":scroll") +
			dimS.Render("  p") + keyS.Render(":pause") +
			dimS.Render("  q") + keyS.Render(":quit")
	}

	gap := max(width-lipgloss.Width(legend)-lipgloss.Width(keys)-4, 1)

	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Width(width).
		Padding(0, 1).
		Render(legend + strings.Repeat(" ", gap) + keys)
}

// ── Helpers ──────────────────────────────────────────────────────────

func trendArrow(t classify.Trend) string {
	switch t {
	case classify.Up:
		return lipgloss.NewStyle().Foreground(colorHigh).Render("▲")
	case classify.Down:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Render("▼")
	case classify.Stable:
		return lipgloss.NewStyle().Foreground(colorDim).Render("■")
	}
	return ""
}

func severityBadge(s classify.Severity) string {
	switch s {
	case classify.Critical:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(colorCrit).Bold(true).Render(" CRIT ")
	case classify.Warning:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(colorHigh).Render(" WARN ")
	}
	return ""
}

func thresholdTags(desc catalog.Descriptor) string {
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	var tags string
	if desc.HasWarning {
		tags += dimS.Render("warn ") + lipgloss.NewStyle().Foreground(colorWarn).Render(fmt.Sprintf("%g", desc.Warning)) + "  "
	}
	if desc.HasCritical {
		tags += dimS.Render("crit ") + lipgloss.NewStyle().Foreground(colorCrit).Render(fmt.Sprintf("%g", desc.Critical))
	}
	return tags
}

func rangeFor(hist *history.Buffer, desc catalog.Descriptor) (lo, hi float64) {
	lo = hist.Low - 5
	if hist.Low >= 0 {
		lo = math.Max(0, lo)
	}
	hi = hist.Peak + 5
	if desc.HasCritical && desc.Critical+5 > hi {
		hi = desc.Critical + 5
	}
	if desc.HasWarning && desc.Warning+5 > hi {
		hi = desc.Warning + 5
	}
	return lo, hi
}

func truncate(s string, w int) string {
	r := []rune(s)
	if w <= 0 {
		return ""
	}
	if len(r) <= w {
		return s
	}
	if w <= 3 {
		return string(r[:w])
	}
	return string(r[:w-1]) + "…"
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
