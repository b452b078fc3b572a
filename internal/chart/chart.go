// Package chart renders sensor series for the terminal: colour-coded
// sparklines with minute ticks, multi-row charts, timeline labels and
// threshold scale bars.
package chart

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/history"
	"github.com/luki/sensordash/internal/sensor"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

var (
	colorCritical = lipgloss.Color("196")
	colorWarning  = lipgloss.Color("208")
	colorNear     = lipgloss.Color("220")
	colorNormal   = lipgloss.Color("78")
	colorDim      = lipgloss.Color("236")
	colorTick     = lipgloss.Color("239")
)

// SeverityColor returns the colour for v under desc's limits. Values within
// 15% below the warning limit get an early-warning yellow. State sensors use
// their chart colour.
func SeverityColor(desc catalog.Descriptor, v float64) lipgloss.Color {
	if desc.IsBinary() {
		return lipgloss.Color(desc.ChartColor)
	}
	switch classify.SeverityOf(desc, v) {
	case classify.Critical:
		return colorCritical
	case classify.Warning:
		return colorWarning
	}
	if desc.HasWarning && v >= desc.Warning*0.85 {
		return colorNear
	}
	return colorNormal
}

func isCritical(desc catalog.Descriptor, v float64) bool {
	return classify.SeverityOf(desc, v) == classify.Critical
}

// Points converts readings to chart points, skipping values that are not
// numeric. Readings are taken in the order given.
func Points(readings []sensor.Reading) []history.Point {
	pts := make([]history.Point, 0, len(readings))
	for _, r := range readings {
		v, err := r.Number()
		if err != nil {
			continue
		}
		ts, _ := r.Time()
		pts = append(pts, history.Point{Value: v, Time: ts})
	}
	return pts
}

// Bounds returns a value range covering points and desc's limits, padded so
// the extremes do not sit on the chart edges.
func Bounds(points []history.Point, desc catalog.Descriptor) (lo, hi float64) {
	if desc.IsBinary() {
		return 0, 1
	}
	lo, hi = math.MaxFloat64, -math.MaxFloat64
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	if desc.HasWarning {
		hi = math.Max(hi, desc.Warning)
	}
	if desc.HasCritical {
		hi = math.Max(hi, desc.Critical)
	}
	if lo > hi {
		return 0, 1
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = 1
	}
	return lo - pad, hi + pad
}

// RenderSparkline renders values without time ticks.
func RenderSparkline(values []float64, width int, rangeMin, rangeMax float64, desc catalog.Descriptor) string {
	if width <= 0 {
		return ""
	}
	pts := make([]history.Point, len(values))
	for i, v := range values {
		pts[i] = history.Point{Value: v}
	}
	return RenderSparklinePoints(pts, width, rangeMin, rangeMax, desc)
}

// RenderSparklinePoints renders a one-row sparkline. A subtle pipe is drawn
// at each minute boundary.
func RenderSparklinePoints(points []history.Point, width int, rangeMin, rangeMax float64, desc catalog.Descriptor) string {
	if width <= 0 {
		return ""
	}

	dim := lipgloss.NewStyle().Foreground(colorDim)
	if len(points) == 0 {
		return dim.Render(strings.Repeat("╌", width))
	}

	if len(points) > width {
		points = points[len(points)-width:]
	}

	padLen := width - len(points)
	span := rangeMax - rangeMin
	if span <= 0 {
		span = 1
	}

	var sb strings.Builder
	for i := 0; i < padLen; i++ {
		sb.WriteString(dim.Render("╌"))
	}

	tickStyle := lipgloss.NewStyle().Foreground(colorTick)

	for i, p := range points {
		if minuteTick(points, i) {
			sb.WriteString(tickStyle.Render("│"))
			continue
		}
		norm := math.Max(0, math.Min(1, (p.Value-rangeMin)/span))
		idx := min(int(norm*7), 7)

		style := lipgloss.NewStyle().Foreground(SeverityColor(desc, p.Value))
		if isCritical(desc, p.Value) {
			style = style.Bold(true)
		}
		sb.WriteString(style.Render(string(sparkBlocks[idx])))
	}

	return sb.String()
}

func minuteTick(points []history.Point, i int) bool {
	p := points[i]
	if p.Time.IsZero() {
		return false
	}
	if p.Time.Second() == 0 {
		return true
	}
	if i > 0 && !points[i-1].Time.IsZero() {
		return p.Time.Minute() != points[i-1].Time.Minute()
	}
	return false
}

// Resample reduces points to at most width columns, keeping the first and
// last point.
func Resample(points []history.Point, width int) []history.Point {
	if width <= 0 {
		return nil
	}
	if len(points) <= width {
		return points
	}
	if width == 1 {
		return points[len(points)-1:]
	}
	out := make([]history.Point, width)
	step := float64(len(points)-1) / float64(width-1)
	for i := range out {
		out[i] = points[int(math.Round(float64(i)*step))]
	}
	return out
}

// RenderChart draws a multi-row bar chart of points scaled into
// [rangeMin, rangeMax], with the range printed on the left axis. When the
// newest value is critical the bars are drawn bold.
func RenderChart(points []history.Point, width, height int, rangeMin, rangeMax float64, desc catalog.Descriptor) string {
	const axisWidth = 8
	plotWidth := width - axisWidth
	if plotWidth <= 0 || height <= 0 {
		return ""
	}

	axis := lipgloss.NewStyle().Foreground(colorTick)
	dim := lipgloss.NewStyle().Foreground(colorDim)

	points = Resample(points, plotWidth)
	span := rangeMax - rangeMin
	if span <= 0 {
		span = 1
	}

	bold := len(points) > 0 && isCritical(desc, points[len(points)-1].Value)

	// Level of each column in eighths of a row.
	levels := make([]int, len(points))
	for i, p := range points {
		norm := math.Max(0, math.Min(1, (p.Value-rangeMin)/span))
		levels[i] = int(math.Round(norm * float64(height*8-1)))
	}

	rows := make([]string, 0, height)
	for r := 0; r < height; r++ {
		var label string
		switch r {
		case 0:
			label = fmt.Sprintf("%7.1f", rangeMax)
		case height - 1:
			label = fmt.Sprintf("%7.1f", rangeMin)
		default:
			label = strings.Repeat(" ", 7)
		}

		var sb strings.Builder
		sb.WriteString(axis.Render(label + "┤"))

		base := (height - 1 - r) * 8
		for i := 0; i < plotWidth; i++ {
			if i >= len(points) {
				sb.WriteString(dim.Render(" "))
				continue
			}
			fill := levels[i] - base
			if fill < 0 {
				sb.WriteString(" ")
				continue
			}
			ch := sparkBlocks[min(fill, 7)]
			style := lipgloss.NewStyle().Foreground(SeverityColor(desc, points[i].Value)).Bold(bold)
			sb.WriteString(style.Render(string(ch)))
		}
		rows = append(rows, sb.String())
	}

	timeline := RenderTimeline(points, plotWidth)
	if timeline != "" {
		rows = append(rows, strings.Repeat(" ", axisWidth)+timeline)
	}
	return strings.Join(rows, "\n")
}

// RenderTimeline renders HH:MM labels under a chart at each minute tick.
func RenderTimeline(points []history.Point, width int) string {
	if len(points) == 0 || width <= 0 {
		return ""
	}

	if len(points) > width {
		points = points[len(points)-width:]
	}

	padLen := width - len(points)

	line := make([]rune, width)
	for i := range line {
		line[i] = ' '
	}

	type tick struct {
		pos   int
		label string
	}
	var ticks []tick

	for i, p := range points {
		if minuteTick(points, i) {
			ticks = append(ticks, tick{pos: padLen + i, label: p.Time.Format("15:04")})
		}
	}

	lastEnd := -1
	for _, t := range ticks {
		start := max(t.pos-2, 0)
		end := start + len(t.label)
		if end > width || start <= lastEnd+1 {
			continue
		}
		for j, ch := range t.label {
			line[start+j] = ch
		}
		lastEnd = end
	}

	return lipgloss.NewStyle().Foreground(colorTick).Render(string(line))
}

// RenderThresholdScale renders a scale bar with the current position and
// the warning and critical marks.
func RenderThresholdScale(current, rangeMin, rangeMax float64, desc catalog.Descriptor, width int) string {
	if width <= 0 {
		return ""
	}

	span := rangeMax - rangeMin
	if span <= 0 {
		span = 1
	}
	pos := func(v float64) int {
		return int(float64(width-1) * (v - rangeMin) / span)
	}

	warnPos, critPos := -1, -1
	if desc.HasWarning && desc.Warning > rangeMin {
		warnPos = pos(desc.Warning)
	}
	if desc.HasCritical && desc.Critical > rangeMin {
		critPos = pos(desc.Critical)
	}
	curPos := min(max(pos(current), 0), width-1)

	var sb strings.Builder
	for i := 0; i < width; i++ {
		switch i {
		case curPos:
			style := lipgloss.NewStyle().Foreground(SeverityColor(desc, current)).Bold(true)
			sb.WriteString(style.Render("◆"))
		case critPos:
			sb.WriteString(lipgloss.NewStyle().Foreground(colorCritical).Render("▪"))
		case warnPos:
			sb.WriteString(lipgloss.NewStyle().Foreground(colorNear).Render("▪"))
		default:
			sb.WriteString(lipgloss.NewStyle().Foreground(colorDim).Render("·"))
		}
	}

	return sb.String()
}

// RenderValue renders a value with its unit, or its on/off label for state
// sensors, colour-coded by severity.
func RenderValue(desc catalog.Descriptor, v float64) string {
	style := lipgloss.NewStyle().Foreground(SeverityColor(desc, v))
	if isCritical(desc, v) {
		style = style.Bold(true)
	}
	return style.Render(classify.Label(desc, v))
}
