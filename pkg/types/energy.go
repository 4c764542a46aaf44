package types

// Metric identifies one of the energy values reported per day.
type Metric string

const (
	MetricCommunityReceived Metric = "crec"
	MetricGridConsumed      Metric = "cgrid"
	MetricTotalConsumed     Metric = "ctotal"
	MetricCommunityFedIn    Metric = "frec"
	MetricGridFedIn         Metric = "fgrid"
	MetricTotalFedIn        Metric = "ftotal"
)

// Metrics lists every metric in presentation order.
var Metrics = []Metric{
	MetricCommunityReceived,
	MetricGridConsumed,
	MetricTotalConsumed,
	MetricCommunityFedIn,
	MetricGridFedIn,
	MetricTotalFedIn,
}

// IsMetric reports whether s names a known metric.
func IsMetric(s string) bool {
	for _, m := range Metrics {
		if string(m) == s {
			return true
		}
	}
	return false
}

// MetricValue is a single value in kWh. Numeric is false when the upstream
// value was missing its number or could not be parsed, in which case Value is 0.
type MetricValue struct {
	Value      float64 `json:"value"`
	Numeric    bool    `json:"-"`
	ValueType  string  `json:"value_type,omitempty"`
	NullValues any     `json:"null_values,omitempty"`
}

// EnergyReading is the set of metrics reported for one entity on one day.
type EnergyReading struct {
	EntityID string                 `json:"entity_id"`
	Date     string                 `json:"date"`
	Metrics  map[Metric]MetricValue `json:"metrics"`
}

// Value returns the metric value or 0 if it is absent.
func (r EnergyReading) Value(m Metric) float64 {
	return r.Metrics[m].Value
}

// EnergyTotal holds the totals reported under one key of the total section.
type EnergyTotal struct {
	Key     string                 `json:"key"`
	Metrics map[Metric]MetricValue `json:"metrics"`
}

// EnergySeries is the ordered daily readings reported under one key of the
// data section.
type EnergySeries struct {
	Key      string          `json:"key"`
	Readings []EnergyReading `json:"readings"`
}

// EnergyData is a parsed energy_data response. Totals and Series keep the
// order the portal returned them in.
type EnergyData struct {
	Unit   string         `json:"unit"`
	Totals []EnergyTotal  `json:"totals"`
	Series []EnergySeries `json:"series"`
}

// Total returns the totals stored under key.
func (d EnergyData) Total(key string) (map[Metric]MetricValue, bool) {
	for _, t := range d.Totals {
		if t.Key == key {
			return t.Metrics, true
		}
	}
	return nil, false
}

// Readings returns the daily readings stored under key.
func (d EnergyData) Readings(key string) []EnergyReading {
	for _, s := range d.Series {
		if s.Key == key {
			return s.Readings
		}
	}
	return nil
}

// FirstReadings returns the readings of the first data key. Counter points
// report a single reference code so this is the series used for costs.
func (d EnergyData) FirstReadings() []EnergyReading {
	if len(d.Series) == 0 {
		return nil
	}
	return d.Series[0].Readings
}
