package http

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/config"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/stats"
)

// pageData feeds the dashboard template.
type pageData struct {
	Days        int
	Bins        int
	DayOptions  []int
	CityOptions []cityOption
	// Query is the canonical, pre-encoded widget state ("cities=..&days=..")
	// the chart <img> tags and the refresh form carry. Built server-side from
	// validated input, so it is safe to mark as a URL.
	Query       template.URL
	KPIs        stats.KPIs
	Summaries   []stats.CitySummary
	HasData     bool
	Failed      []models.CityError
	BindError   string
	Details     []cityDetail
	GeneratedAt time.Time
}

type cityOption struct {
	Name    string
	Checked bool
}

type cityDetail struct {
	Name string
}

// GetDashboard handles GET /, the single-page dashboard. Widget state comes
// in as query parameters; every control submits back to this route.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	var q datasetQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		data := h.newPageData(h.defaultDays, nil)
		data.BindError = err.Error()
		h.renderDashboard(w, r, http.StatusBadRequest, data)
		return
	}

	ds, failed := h.fetchDataset(r.Context(), q.Cities, q.Days)

	data := h.newPageData(q.Days, q.Cities)
	data.Failed = failed
	if ds.Records() > 0 {
		rows := ds.Rows()
		data.HasData = true
		data.KPIs = stats.Aggregate(rows)
		data.Summaries = stats.Summaries(rows)
		for _, s := range ds.Series {
			if len(s.Rows) > 0 {
				data.Details = append(data.Details, cityDetail{Name: s.City})
			}
		}
	}

	status := http.StatusOK
	if !data.HasData && len(failed) > 0 {
		status = http.StatusBadGateway
	}
	h.renderDashboard(w, r, status, data)
}

// newPageData assembles the widget state shared by every render: city
// checkboxes, the day selector, and the canonical query string.
func (h *Handler) newPageData(days int, selected []cities.City) pageData {
	checked := make(map[string]bool, len(selected))
	names := make([]string, 0, len(selected))
	for _, c := range selected {
		checked[c.Name] = true
		names = append(names, c.Name)
	}

	opts := make([]cityOption, 0, h.registry.Len())
	for _, c := range h.registry.All() {
		opts = append(opts, cityOption{Name: c.Name, Checked: checked[c.Name]})
	}

	query := url.Values{}
	query.Set("days", strconv.Itoa(days))
	if len(names) > 0 {
		query.Set("cities", strings.Join(names, ","))
	}

	return pageData{
		Days:        days,
		Bins:        h.defaultBins,
		DayOptions:  dayOptions(),
		CityOptions: opts,
		Query:       template.URL(query.Encode()),
		GeneratedAt: time.Now(),
	}
}

func dayOptions() []int {
	opts := make([]int, 0, config.MaxLookbackDays+1)
	for d := 0; d <= config.MaxLookbackDays; d++ {
		opts = append(opts, d)
	}
	return opts
}

// renderDashboard executes the page template into a buffer so a template
// error becomes a clean 500 instead of half a page.
func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, data); err != nil {
		if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
			logger.Error("dashboard template", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "TEMPLATE_ERROR", "unable to render dashboard")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
	observability.DashboardRendersTotal.Inc()
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

// dashboardHTML is the whole dashboard: a widget form, KPI cards, a summary
// table, the chart grid, and a per-city detail section. Charts are <img>
// tags pointing at the SVG endpoints, so the page ships zero scripts.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Saudi Cities Weather Dashboard</title>
<style>
 body { font-family: system-ui, sans-serif; margin: 1.5rem; background: #f7f7f8; color: #1c1c1e; }
 h1 { margin: 0 0 1rem; font-size: 1.5rem; }
 h2 { font-size: 1.1rem; margin: 1.5rem 0 .5rem; }
 form.controls { display: flex; flex-wrap: wrap; gap: 1rem; align-items: center; background: #fff; padding: .75rem 1rem; border-radius: 8px; box-shadow: 0 1px 2px rgba(0,0,0,.08); }
 form.refresh { margin-top: .5rem; }
 .banner { background: #fdecea; border: 1px solid #f5c6cb; color: #842029; padding: .6rem 1rem; border-radius: 8px; margin: 1rem 0; }
 .kpis { display: flex; flex-wrap: wrap; gap: 1rem; margin: 1rem 0; }
 .kpi { background: #fff; border-radius: 8px; padding: .75rem 1.25rem; box-shadow: 0 1px 2px rgba(0,0,0,.08); }
 .kpi .label { font-size: .75rem; color: #6e6e73; text-transform: uppercase; }
 .kpi .value { font-size: 1.4rem; font-weight: 600; }
 table.summary { border-collapse: collapse; background: #fff; border-radius: 8px; box-shadow: 0 1px 2px rgba(0,0,0,.08); }
 table.summary th, table.summary td { padding: .4rem .9rem; text-align: right; }
 table.summary th:first-child, table.summary td:first-child { text-align: left; }
 table.summary thead { background: #f0f0f2; }
 .charts img, .city-detail img { background: #fff; border-radius: 8px; box-shadow: 0 1px 2px rgba(0,0,0,.08); margin: .5rem .5rem 0 0; max-width: 100%; }
 footer { margin-top: 2rem; font-size: .8rem; color: #6e6e73; }
</style>
</head>
<body>
<h1>Saudi Cities Weather Dashboard</h1>

<form class="controls" method="get" action="/">
  <span>Cities:</span>
  {{range .CityOptions}}<label><input type="checkbox" name="cities" value="{{.Name}}"{{if .Checked}} checked{{end}}> {{.Name}}</label>
  {{end}}<label>Past days:
    <select name="days">
      {{range .DayOptions}}<option value="{{.}}"{{if eq . $.Days}} selected{{end}}>{{.}}</option>{{end}}
    </select>
  </label>
  <button type="submit">Apply</button>
</form>
<form class="refresh" method="post" action="/api/v1/refresh?{{.Query}}">
  <button type="submit">Refresh data</button>
</form>

{{if .BindError}}<div class="banner">{{.BindError}}</div>{{end}}
{{if .Failed}}<div class="banner">Some cities could not be fetched:
  {{range .Failed}}<strong>{{.City}}</strong> ({{.Err}}) {{end}}
</div>{{end}}

{{if .HasData}}
<section class="kpis">
  <div class="kpi"><div class="label">Cities</div><div class="value">{{.KPIs.Cities}}</div></div>
  <div class="kpi"><div class="label">Records</div><div class="value">{{.KPIs.Records}}</div></div>
  <div class="kpi"><div class="label">Avg Temp</div><div class="value">{{printf "%.1f" .KPIs.AvgTemperature}} &deg;C</div></div>
  <div class="kpi"><div class="label">Max Temp</div><div class="value">{{printf "%.1f" .KPIs.MaxTemperature}} &deg;C</div></div>
  <div class="kpi"><div class="label">Min Temp</div><div class="value">{{printf "%.1f" .KPIs.MinTemperature}} &deg;C</div></div>
  <div class="kpi"><div class="label">Avg Wind</div><div class="value">{{printf "%.1f" .KPIs.AvgWindSpeed}} m/s</div></div>
</section>

<h2>City summary</h2>
<table class="summary">
  <thead><tr><th>City</th><th>Records</th><th>Avg Temp</th><th>Max</th><th>Min</th><th>Avg Wind</th></tr></thead>
  <tbody>
  {{range .Summaries}}<tr>
    <td>{{.City}}</td><td>{{.Records}}</td>
    <td>{{printf "%.1f" .AvgTemperature}}</td><td>{{printf "%.1f" .MaxTemperature}}</td>
    <td>{{printf "%.1f" .MinTemperature}}</td><td>{{printf "%.1f" .AvgWindSpeed}}</td>
  </tr>
  {{end}}</tbody>
</table>

<h2>Charts</h2>
<section class="charts">
  <img src="/charts/temperature.svg?{{.Query}}" alt="Hourly temperature by city">
  <img src="/charts/summary.svg?metric=temperature&{{.Query}}" alt="Average temperature by city">
  <img src="/charts/summary.svg?metric=wind&{{.Query}}" alt="Average wind speed by city">
</section>

{{range .Details}}
<section class="city-detail">
  <h2>{{.Name}}</h2>
  <img src="/charts/city/{{.Name}}/trend.svg?days={{$.Days}}" alt="{{.Name}} temperature trend">
  <img src="/charts/city/{{.Name}}/histogram.svg?days={{$.Days}}&bins={{$.Bins}}" alt="{{.Name}} temperature histogram">
  <img src="/charts/city/{{.Name}}/scatter.svg?days={{$.Days}}" alt="{{.Name}} temperature vs wind speed">
</section>
{{end}}
{{else}}{{if not .BindError}}
<div class="banner">No weather data is available right now. Try again shortly.</div>
{{end}}{{end}}

<footer>Data: Open-Meteo &middot; Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</footer>
</body>
</html>
`
