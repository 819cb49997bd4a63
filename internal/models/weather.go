package models

import (
	"sort"
	"time"
)

// Observation is one hourly row reshaped from the Open-Meteo parallel arrays.
type Observation struct {
	City          string    `json:"city"`
	Time          time.Time `json:"time"`
	Temperature   float64   `json:"temp"`
	WindSpeed     float64   `json:"windspeed"`
	WindDirection float64   `json:"winddirection"`
}

// CitySeries holds the reshaped hourly observations for one city and lookback.
// Rows are sorted by time ascending.
type CitySeries struct {
	City      string        `json:"city"`
	Timezone  string        `json:"timezone"`
	FetchedAt time.Time     `json:"fetchedAt"`
	Rows      []Observation `json:"rows"`
}

// Dataset is the merged result of fetching several cities for one lookback.
type Dataset struct {
	Series []CitySeries `json:"series"`
}

// CityError reports a city whose fetch failed while others succeeded.
type CityError struct {
	City string `json:"city"`
	Err  string `json:"error"`
}

// Rows flattens the dataset into a single slice sorted by time ascending.
// Rows with equal timestamps keep their series order, so the merge is stable
// with respect to the order the cities were requested in.
func (d Dataset) Rows() []Observation {
	total := 0
	for _, s := range d.Series {
		total += len(s.Rows)
	}
	rows := make([]Observation, 0, total)
	for _, s := range d.Series {
		rows = append(rows, s.Rows...)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Time.Before(rows[j].Time)
	})
	return rows
}

// Records returns the total observation count across all series.
func (d Dataset) Records() int {
	n := 0
	for _, s := range d.Series {
		n += len(s.Rows)
	}
	return n
}

// Cities returns the series city names in dataset order.
func (d Dataset) Cities() []string {
	names := make([]string, 0, len(d.Series))
	for _, s := range d.Series {
		names = append(names, s.City)
	}
	return names
}
