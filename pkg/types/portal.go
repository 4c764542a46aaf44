package types

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Credentials for the energy community portal. They are supplied once when
// the client is built and never change afterwards.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// FlexString accepts either a JSON string or a JSON number. The portal is not
// consistent about quoting identifiers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Community is a group of producers and consumers sharing generated power.
type Community struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	RCNumber FlexString `json:"rc_number"`
}

// EnergyDirection tags a counter point as producer or consumer.
type EnergyDirection string

const (
	EnergyDirectionProducer EnergyDirection = "Producer"
	EnergyDirectionConsumer EnergyDirection = "Consumer"
)

// CounterPoint is a physical metering location.
type CounterPoint struct {
	ID                 int64      `json:"id"`
	CounterNumber      FlexString `json:"counter_number"`
	EnergyDirection    FlexString `json:"energy_direction"`
	CounterPointNumber FlexString `json:"counter_point_number"`
}

// Direction maps the raw energy_direction field, where "1" means producer.
func (c CounterPoint) Direction() EnergyDirection {
	if c.EnergyDirection == "1" {
		return EnergyDirectionProducer
	}
	return EnergyDirectionConsumer
}

// Number returns the counter number, falling back to the id.
func (c CounterPoint) Number() string {
	if c.CounterNumber != "" {
		return string(c.CounterNumber)
	}
	return strconv.FormatInt(c.ID, 10)
}

// CommunityData is one community with the energy data fetched for it.
type CommunityData struct {
	Info   Community  `json:"info"`
	Energy EnergyData `json:"energy"`
}

// CounterPointData is one counter point with its energy data and the costs
// derived from it.
type CounterPointData struct {
	Info   CounterPoint `json:"info"`
	Energy EnergyData   `json:"energy"`
	Costs  CostSeries   `json:"costs"`
}
