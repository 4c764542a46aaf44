// Package energy parses the energy_data payloads returned by the portal.
//
// The portal is not consistent about the shape of metric values: community
// payloads nest them as {"value": "1.23"} while some counter point payloads
// return a bare number. Both are accepted, anything else reads as 0.
package energy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/raterudder/energycommunity/pkg/types"
)

// DefaultUnit is used when the payload has no meta.unit.
const DefaultUnit = "kWh"

// CounterPointTotalKey is the key counter point payloads use in the total
// section instead of a reference code.
const CounterPointTotalKey = "total"

// ErrNotObject is returned when the payload is not a JSON object.
var ErrNotObject = errors.New("energy data is not an object")

// Empty returns the result used when a payload could not be parsed at all.
func Empty() types.EnergyData {
	return types.EnergyData{Unit: DefaultUnit}
}

// Parse reads an energy_data payload. Sections with an unexpected shape are
// skipped and only a payload that is not a JSON object is an error.
func Parse(raw []byte) (types.EnergyData, error) {
	keys, values, err := orderedObject(raw)
	if err != nil {
		return Empty(), err
	}

	data := Empty()
	for i, key := range keys {
		switch key {
		case "meta":
			var meta struct {
				Unit string `json:"unit"`
			}
			if json.Unmarshal(values[i], &meta) == nil && meta.Unit != "" {
				data.Unit = meta.Unit
			}
		case "total":
			data.Totals = parseTotals(values[i])
		case "data":
			data.Series = parseSeries(values[i])
		}
	}
	return data, nil
}

func parseTotals(raw json.RawMessage) []types.EnergyTotal {
	keys, values, err := orderedObject(raw)
	if err != nil {
		return nil
	}
	totals := make([]types.EnergyTotal, 0, len(keys))
	for i, key := range keys {
		totals = append(totals, types.EnergyTotal{
			Key:     key,
			Metrics: parseMetrics(values[i]),
		})
	}
	return totals
}

func parseSeries(raw json.RawMessage) []types.EnergySeries {
	keys, values, err := orderedObject(raw)
	if err != nil {
		return nil
	}
	series := make([]types.EnergySeries, 0, len(keys))
	for i, key := range keys {
		dates, days, err := orderedObject(values[i])
		if err != nil {
			// keep the key so FirstReadings still points at the right series
			series = append(series, types.EnergySeries{Key: key})
			continue
		}
		readings := make([]types.EnergyReading, 0, len(dates))
		for j, date := range dates {
			readings = append(readings, types.EnergyReading{
				EntityID: key,
				Date:     DateOnly(date),
				Metrics:  parseMetrics(days[j]),
			})
		}
		series = append(series, types.EnergySeries{Key: key, Readings: readings})
	}
	return series
}

// DateOnly strips the time part from an ISO timestamp.
func DateOnly(s string) string {
	date, _, _ := strings.Cut(s, "T")
	return date
}

// parseMetrics never fails, a record that isn't an object has no metrics.
func parseMetrics(raw json.RawMessage) map[types.Metric]types.MetricValue {
	metrics := make(map[types.Metric]types.MetricValue)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return metrics
	}
	for name, v := range fields {
		if !types.IsMetric(name) {
			continue
		}
		metrics[types.Metric(name)] = MetricValue(v)
	}
	return metrics
}

// MetricValue extracts a metric from either {"value": x, ...} or a bare x,
// where x is a number or a numeric string.
func MetricValue(raw json.RawMessage) types.MetricValue {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var nested struct {
			Value      json.RawMessage `json:"value"`
			ValueType  string          `json:"value_type"`
			NullValues any             `json:"null_values"`
		}
		if err := json.Unmarshal(raw, &nested); err != nil {
			return types.MetricValue{}
		}
		v, ok := toFloat(nested.Value)
		return types.MetricValue{
			Value:      v,
			Numeric:    ok,
			ValueType:  nested.ValueType,
			NullValues: nested.NullValues,
		}
	}
	v, ok := toFloat(raw)
	return types.MetricValue{Value: v, Numeric: ok}
}

func toFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// orderedObject decodes a JSON object keeping the order of its keys, which a
// map would lose. Dates come back from the portal in ascending order.
func orderedObject(raw []byte) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, ErrNotObject
	}

	var keys []string
	var values []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		// a repeated key replaces the earlier value like a map would
		if idx := slices.Index(keys, key); idx >= 0 {
			values[idx] = v
			continue
		}
		keys = append(keys, key)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}
