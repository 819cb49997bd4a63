package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/config"
)

var validate = validator.New()

var (
	errInvalidDays = fmt.Errorf("days must be an integer between 0 and %d", config.MaxLookbackDays)
	errInvalidBins = errors.New("bins must be an integer between 1 and 100")
)

// datasetQuery is the widget state every multi-city endpoint accepts: which
// cities to show and how many past days to look back.
type datasetQuery struct {
	Days   int `validate:"min=0,max=3"`
	Cities []cities.City
}

func (q *datasetQuery) bind(r *http.Request, registry *cities.Registry, defaultDays int) error {
	days, err := parseDaysParam(r, defaultDays)
	if err != nil {
		return err
	}
	q.Days = days

	selected, err := resolveCities(r.URL.Query()["cities"], registry)
	if err != nil {
		return err
	}
	q.Cities = selected
	if err := validate.Struct(q); err != nil {
		return errInvalidDays
	}
	return nil
}

// cityQuery addresses a single tracked city, taken from the route path.
type cityQuery struct {
	City cities.City
	Days int `validate:"min=0,max=3"`
}

func (q *cityQuery) bind(r *http.Request, registry *cities.Registry, defaultDays int) error {
	name := strings.TrimSpace(mux.Vars(r)["city"])
	c, ok := registry.Lookup(name)
	if !ok {
		return unknownCityError(name, registry)
	}
	q.City = c

	days, err := parseDaysParam(r, defaultDays)
	if err != nil {
		return err
	}
	q.Days = days
	if err := validate.Struct(q); err != nil {
		return errInvalidDays
	}
	return nil
}

// histogramQuery adds the bin count to a single-city query.
type histogramQuery struct {
	cityQuery
	Bins int `validate:"min=1,max=100"`
}

func (q *histogramQuery) bind(r *http.Request, registry *cities.Registry, defaultDays, defaultBins int) error {
	if err := q.cityQuery.bind(r, registry, defaultDays); err != nil {
		return err
	}

	q.Bins = defaultBins
	if raw := strings.TrimSpace(r.URL.Query().Get("bins")); raw != "" {
		bins, err := strconv.Atoi(raw)
		if err != nil {
			return errInvalidBins
		}
		q.Bins = bins
	}
	// Days already validated by the embedded bind; a failure here is the bins range.
	if err := validate.Struct(q); err != nil {
		return errInvalidBins
	}
	return nil
}

// summaryChartQuery selects which per-city average the summary bar chart draws.
type summaryChartQuery struct {
	datasetQuery
	Metric string `validate:"oneof=temperature wind"`
}

func (q *summaryChartQuery) bind(r *http.Request, registry *cities.Registry, defaultDays int) error {
	if err := q.datasetQuery.bind(r, registry, defaultDays); err != nil {
		return err
	}

	q.Metric = strings.TrimSpace(strings.ToLower(r.URL.Query().Get("metric")))
	if q.Metric == "" {
		q.Metric = "temperature"
	}
	if err := validate.Struct(q); err != nil {
		return errors.New("metric must be temperature or wind")
	}
	return nil
}

// nearestQuery holds the coordinates for the nearest-city lookup. Both
// parameters are required; there is no sensible default position.
type nearestQuery struct {
	Lat float64 `validate:"min=-90,max=90"`
	Lon float64 `validate:"min=-180,max=180"`
}

func (q *nearestQuery) bind(r *http.Request) error {
	rawLat := strings.TrimSpace(r.URL.Query().Get("lat"))
	rawLon := strings.TrimSpace(r.URL.Query().Get("lon"))
	if rawLat == "" || rawLon == "" {
		return errors.New("lat and lon query parameters are required")
	}

	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return errors.New("lat must be a number")
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return errors.New("lon must be a number")
	}

	q.Lat, q.Lon = lat, lon
	if err := validate.Struct(q); err != nil {
		return errors.New("lat must be within -90..90 and lon within -180..180")
	}
	return nil
}

// parseDaysParam reads the days parameter, falling back to the dashboard
// default when absent. Non-integer input is rejected here; range checks are
// the validator's job.
func parseDaysParam(r *http.Request, defaultDays int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	if raw == "" {
		return defaultDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errInvalidDays
	}
	return days, nil
}

// resolveCities matches the cities parameters against the registry. Values
// may repeat (form checkboxes) or be comma-separated (hand-built URLs); an
// empty selection means every tracked city, the dashboard's default. The
// result keeps registry order so merged rows and charts are stable no matter
// how the query string orders the names.
func resolveCities(values []string, registry *cities.Registry) ([]cities.City, error) {
	wanted := make(map[string]bool)
	for _, value := range values {
		for _, name := range strings.Split(value, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			c, ok := registry.Lookup(name)
			if !ok {
				return nil, unknownCityError(name, registry)
			}
			wanted[c.Name] = true
		}
	}
	if len(wanted) == 0 {
		return registry.All(), nil
	}

	out := make([]cities.City, 0, len(wanted))
	for _, c := range registry.All() {
		if wanted[c.Name] {
			out = append(out, c)
		}
	}
	return out, nil
}

func unknownCityError(name string, registry *cities.Registry) error {
	return fmt.Errorf("unknown city %q; tracked cities are %s", name, strings.Join(registry.Names(), ", "))
}
