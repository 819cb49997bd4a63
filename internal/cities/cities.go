// Package cities holds the fixed registry of tracked cities and their
// coordinates. The dashboard only ever queries these four; coordinates are
// embedded so no geocoding call is needed.
package cities

import (
	"strings"

	"github.com/umahmood/haversine"
)

// City is one tracked location.
type City struct {
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
}

// Registry resolves city names against a fixed, ordered set of cities.
type Registry struct {
	cities []City
	byName map[string]City
}

// Default returns the built-in registry: Riyadh, Jeddah, Dammam, Abha.
func Default() *Registry {
	return NewRegistry([]City{
		{Name: "Riyadh", Lat: 24.7136, Lon: 46.6753},
		{Name: "Jeddah", Lat: 21.4858, Lon: 39.1925},
		{Name: "Dammam", Lat: 26.3927, Lon: 49.9777},
		{Name: "Abha", Lat: 18.2465, Lon: 42.5117},
	})
}

// NewRegistry builds a registry from the given cities, preserving order.
func NewRegistry(list []City) *Registry {
	r := &Registry{
		cities: make([]City, len(list)),
		byName: make(map[string]City, len(list)),
	}
	copy(r.cities, list)
	for _, c := range list {
		r.byName[normalize(c.Name)] = c
	}
	return r
}

// All returns the cities in registry order.
func (r *Registry) All() []City {
	out := make([]City, len(r.cities))
	copy(out, r.cities)
	return out
}

// Names returns the city names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cities))
	for _, c := range r.cities {
		names = append(names, c.Name)
	}
	return names
}

// Lookup resolves a name case-insensitively, ignoring surrounding whitespace.
func (r *Registry) Lookup(name string) (City, bool) {
	c, ok := r.byName[normalize(name)]
	return c, ok
}

// Nearest returns the tracked city closest to the given coordinates and the
// great-circle distance to it in kilometers.
func (r *Registry) Nearest(lat, lon float64) (City, float64) {
	var (
		best     City
		bestKm   float64
		haveBest bool
	)
	from := haversine.Coord{Lat: lat, Lon: lon}
	for _, c := range r.cities {
		_, km := haversine.Distance(from, haversine.Coord{Lat: c.Lat, Lon: c.Lon})
		if !haveBest || km < bestKm {
			best, bestKm, haveBest = c, km, true
		}
	}
	return best, bestKm
}

// Len returns the number of tracked cities.
func (r *Registry) Len() int {
	return len(r.cities)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
