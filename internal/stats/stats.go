// Package stats computes the dashboard aggregates: overall KPIs, per-city
// summaries, and fixed-bin histograms over observation values.
package stats

import (
	"fmt"
	"sort"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
)

// DefaultHistogramBins is the bin count used when the caller does not choose one.
const DefaultHistogramBins = 15

// KPIs are the headline numbers shown at the top of the dashboard.
type KPIs struct {
	Cities         int     `json:"cities"`
	Records        int     `json:"records"`
	AvgTemperature float64 `json:"avgTemp"`
	MaxTemperature float64 `json:"maxTemp"`
	MinTemperature float64 `json:"minTemp"`
	AvgWindSpeed   float64 `json:"avgWind"`
}

// CitySummary aggregates one city's observations.
type CitySummary struct {
	City           string  `json:"city"`
	Records        int     `json:"records"`
	AvgTemperature float64 `json:"avgTemp"`
	MaxTemperature float64 `json:"maxTemp"`
	MinTemperature float64 `json:"minTemp"`
	AvgWindSpeed   float64 `json:"avgWind"`
}

// Bin is one histogram bucket over [Lo, Hi); the last bin includes Hi.
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Label renders the bin bounds for chart axes.
func (b Bin) Label() string {
	return fmt.Sprintf("%.1f to %.1f", b.Lo, b.Hi)
}

// Aggregate computes the overall KPIs for a set of observations.
// Empty input yields the zero value.
func Aggregate(rows []models.Observation) KPIs {
	if len(rows) == 0 {
		return KPIs{}
	}
	k := KPIs{
		Records:        len(rows),
		MaxTemperature: rows[0].Temperature,
		MinTemperature: rows[0].Temperature,
	}
	seen := make(map[string]struct{})
	var tempSum, windSum float64
	for _, r := range rows {
		seen[r.City] = struct{}{}
		tempSum += r.Temperature
		windSum += r.WindSpeed
		if r.Temperature > k.MaxTemperature {
			k.MaxTemperature = r.Temperature
		}
		if r.Temperature < k.MinTemperature {
			k.MinTemperature = r.Temperature
		}
	}
	k.Cities = len(seen)
	k.AvgTemperature = tempSum / float64(len(rows))
	k.AvgWindSpeed = windSum / float64(len(rows))
	return k
}

// Summaries groups observations by city and aggregates each group.
// Output is sorted by city name so bar charts are stable across renders.
func Summaries(rows []models.Observation) []CitySummary {
	if len(rows) == 0 {
		return nil
	}
	byCity := make(map[string]*CitySummary)
	var (
		tempSums = make(map[string]float64)
		windSums = make(map[string]float64)
	)
	for _, r := range rows {
		s, ok := byCity[r.City]
		if !ok {
			s = &CitySummary{
				City:           r.City,
				MaxTemperature: r.Temperature,
				MinTemperature: r.Temperature,
			}
			byCity[r.City] = s
		}
		s.Records++
		tempSums[r.City] += r.Temperature
		windSums[r.City] += r.WindSpeed
		if r.Temperature > s.MaxTemperature {
			s.MaxTemperature = r.Temperature
		}
		if r.Temperature < s.MinTemperature {
			s.MinTemperature = r.Temperature
		}
	}
	out := make([]CitySummary, 0, len(byCity))
	for city, s := range byCity {
		s.AvgTemperature = tempSums[city] / float64(s.Records)
		s.AvgWindSpeed = windSums[city] / float64(s.Records)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].City < out[j].City })
	return out
}

// Histogram buckets values into equal-width bins spanning [min, max].
// The maximum value lands in the last bin. A non-positive bin count falls
// back to DefaultHistogramBins; a single distinct value degenerates to one
// unit-width bin centered on it.
func Histogram(values []float64, bins int) []Bin {
	if len(values) == 0 {
		return nil
	}
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return []Bin{{Lo: lo - 0.5, Hi: hi + 0.5, Count: len(values)}}
	}
	width := (hi - lo) / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Lo = lo + float64(i)*width
		out[i].Hi = lo + float64(i+1)*width
	}
	out[bins-1].Hi = hi
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Count++
	}
	return out
}

// Temperatures extracts the temperature column from a set of observations.
func Temperatures(rows []models.Observation) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Temperature
	}
	return out
}
