// Package charts renders the dashboard's SVG charts with go-chart. Each
// renderer writes a complete SVG document to w and fails on empty input so
// handlers can answer with a JSON error instead of a broken image.
package charts

import (
	"errors"
	"fmt"
	"io"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/stats"
)

// ErrNoData means the requested dataset had no rows to draw.
var ErrNoData = errors.New("charts: no rows to render")

// Metric selects which per-city average SummaryBars draws.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricWind        Metric = "wind"
)

// Chart kind labels for the render metrics.
const (
	kindTemperature = "temperature"
	kindSummary     = "summary"
	kindTrend       = "trend"
	kindHistogram   = "histogram"
	kindScatter     = "scatter"
)

const (
	wideWidth  = 960
	wideHeight = 420
	cardWidth  = 640
	cardHeight = 360
)

// hourFormat labels the time axis; hourly points over a few days need the
// day as well as the hour.
const hourFormat = "01-02 15:04"

// TemperatureLines draws one time series per city with line and point
// markers, mirroring the dashboard's "Hourly Temperature" chart.
func TemperatureLines(w io.Writer, ds models.Dataset) error {
	var series []chart.Series
	for i, cs := range ds.Series {
		if len(cs.Rows) == 0 {
			continue
		}
		xs, ys := temperatureValues(cs)
		col := chart.GetDefaultColor(i)
		series = append(series, chart.TimeSeries{
			Name:    cs.City,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: col,
				StrokeWidth: 2,
				DotColor:    col,
				DotWidth:    3,
			},
		})
	}
	if len(series) == 0 {
		return ErrNoData
	}

	graph := chart.Chart{
		Title:      "Hourly Temperature",
		Width:      wideWidth,
		Height:     wideHeight,
		Background: chart.Style{Padding: chart.Box{Top: 28, Left: 16, Right: 16, Bottom: 8}},
		XAxis: chart.XAxis{
			Name:           "Time",
			ValueFormatter: chart.TimeValueFormatterWithFormat(hourFormat),
		},
		YAxis:  chart.YAxis{Name: "°C"},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return render(kindTemperature, w, graph)
}

// CityTrend draws a single city's temperature line for the detail section.
func CityTrend(w io.Writer, cs models.CitySeries) error {
	if len(cs.Rows) == 0 {
		return ErrNoData
	}
	xs, ys := temperatureValues(cs)
	col := chart.GetDefaultColor(0)

	graph := chart.Chart{
		Title:      fmt.Sprintf("%s Hourly Temperature", cs.City),
		Width:      cardWidth,
		Height:     cardHeight,
		Background: chart.Style{Padding: chart.Box{Top: 28, Left: 12, Right: 12, Bottom: 8}},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat(hourFormat),
		},
		YAxis: chart.YAxis{Name: "°C"},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    cs.City,
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: col,
					StrokeWidth: 2,
					DotColor:    col,
					DotWidth:    3,
				},
			},
		},
	}
	return render(kindTrend, w, graph)
}

// SummaryBars draws one bar per city for the chosen metric. Bar labels carry
// the value so the reader gets the number without hovering (SVG has no
// tooltips).
func SummaryBars(w io.Writer, summaries []stats.CitySummary, metric Metric) error {
	if len(summaries) == 0 {
		return ErrNoData
	}

	title := "Average Temperature by City (°C)"
	bars := make([]chart.Value, 0, len(summaries))
	for i, s := range summaries {
		v := s.AvgTemperature
		if metric == MetricWind {
			v = s.AvgWindSpeed
		}
		col := chart.GetDefaultColor(i)
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("%s %.1f", s.City, v),
			Value: v,
			Style: chart.Style{FillColor: col, StrokeColor: col},
		})
	}
	if metric == MetricWind {
		title = "Average Wind Speed by City (m/s)"
	}

	graph := chart.BarChart{
		Title:        title,
		Width:        cardWidth,
		Height:       cardHeight,
		BarWidth:     60,
		Background:   chart.Style{Padding: chart.Box{Top: 40}},
		UseBaseValue: true,
		BaseValue:    0,
		Bars:         bars,
	}
	return render(kindSummary, w, graph)
}

// TemperatureHistogram buckets a city's temperatures into equal-width bins
// and draws one bar per bin, labeled with the bin bounds.
func TemperatureHistogram(w io.Writer, cs models.CitySeries, bins int) error {
	if len(cs.Rows) == 0 {
		return ErrNoData
	}
	hist := stats.Histogram(stats.Temperatures(cs.Rows), bins)

	bars := make([]chart.Value, 0, len(hist))
	for _, b := range hist {
		bars = append(bars, chart.Value{
			Label: b.Label(),
			Value: float64(b.Count),
			Style: chart.Style{FillColor: chart.ColorBlue, StrokeColor: chart.ColorBlue},
		})
	}

	graph := chart.BarChart{
		Title:        fmt.Sprintf("%s Temperature Distribution", cs.City),
		Width:        wideWidth,
		Height:       cardHeight,
		BarWidth:     32,
		BarSpacing:   8,
		Background:   chart.Style{Padding: chart.Box{Top: 40}},
		UseBaseValue: true,
		BaseValue:    0,
		Bars:         bars,
	}
	return render(kindHistogram, w, graph)
}

// TempWindScatter plots temperature against wind speed, dots only.
func TempWindScatter(w io.Writer, cs models.CitySeries) error {
	if len(cs.Rows) == 0 {
		return ErrNoData
	}
	xs := make([]float64, 0, len(cs.Rows))
	ys := make([]float64, 0, len(cs.Rows))
	minX, maxX := cs.Rows[0].Temperature, cs.Rows[0].Temperature
	for _, r := range cs.Rows {
		xs = append(xs, r.Temperature)
		ys = append(ys, r.WindSpeed)
		if r.Temperature < minX {
			minX = r.Temperature
		}
		if r.Temperature > maxX {
			maxX = r.Temperature
		}
	}

	// A zero-width X range (one row, or every hour at the same temperature)
	// fails go-chart's range check; widen it explicitly.
	xAxis := chart.XAxis{Name: "Temperature (°C)"}
	if minX == maxX {
		xAxis.Range = &chart.ContinuousRange{Min: minX - 0.5, Max: maxX + 0.5}
	}

	graph := chart.Chart{
		Title:      fmt.Sprintf("%s Temperature vs Wind Speed", cs.City),
		Width:      cardWidth,
		Height:     cardHeight,
		Background: chart.Style{Padding: chart.Box{Top: 28, Left: 12, Right: 12, Bottom: 8}},
		XAxis:      xAxis,
		YAxis:      chart.YAxis{Name: "Wind speed (m/s)"},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    cs.City,
				XValues: xs,
				YValues: ys,
				Style:   pointStyle(chart.ColorBlue),
			},
		},
	}
	return render(kindScatter, w, graph)
}

// pointStyle returns a style that renders points only (no connecting line).
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    4,
		DotColor:    col,
	}
}

// temperatureValues flattens a city's rows into go-chart's parallel slices.
// A single observation is padded to two points a minute apart; go-chart
// cannot compute a range from one X value.
func temperatureValues(cs models.CitySeries) ([]time.Time, []float64) {
	xs := make([]time.Time, 0, len(cs.Rows))
	ys := make([]float64, 0, len(cs.Rows))
	for _, r := range cs.Rows {
		xs = append(xs, r.Time)
		ys = append(ys, r.Temperature)
	}
	if len(xs) == 1 {
		xs = append(xs, xs[0].Add(time.Minute))
		ys = append(ys, ys[0])
	}
	return xs, ys
}

// svgRenderer is the piece of go-chart both Chart and BarChart share.
type svgRenderer interface {
	Render(rp chart.RendererProvider, w io.Writer) error
}

// render draws the graph as SVG and records the chart metrics.
func render(kind string, w io.Writer, graph svgRenderer) error {
	start := time.Now()
	err := graph.Render(chart.SVG, w)
	observability.ChartRenderDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("render %s chart: %w", kind, err)
	}
	observability.ChartRendersTotal.WithLabelValues(kind).Inc()
	return nil
}
