package models

import "time"

// TimestampLayout is the canonical stored form of a reading timestamp: UTC, no zone suffix,
// fixed-width microseconds so lexical order matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Measurements holds the optional electrical values of one sample. A nil pointer means the
// sensor did not report the field.
type Measurements struct {
	Voltage     *float64 `json:"voltage"`
	Current     *float64 `json:"current"`
	Power       *float64 `json:"power"`
	EnergyKWh   *float64 `json:"energy_kwh"`
	Frequency   *float64 `json:"frequency"`
	PowerFactor *float64 `json:"pf"`
}

// Clone returns a copy that shares no pointers with m.
func (m Measurements) Clone() Measurements {
	return Measurements{
		Voltage:     cloneFloat(m.Voltage),
		Current:     cloneFloat(m.Current),
		Power:       cloneFloat(m.Power),
		EnergyKWh:   cloneFloat(m.EnergyKWh),
		Frequency:   cloneFloat(m.Frequency),
		PowerFactor: cloneFloat(m.PowerFactor),
	}
}

// Reading is one normalized telemetry sample as produced by ingestion.
type Reading struct {
	Timestamp time.Time
	Measurements
}

// Clone returns a deep copy of r.
func (r Reading) Clone() Reading {
	return Reading{
		Timestamp:    r.Timestamp,
		Measurements: r.Measurements.Clone(),
	}
}

// StoredTimestamp renders the timestamp in its canonical stored form.
func (r Reading) StoredTimestamp() string {
	return r.Timestamp.UTC().Format(TimestampLayout)
}

// Record is a reading as it sits in durable storage. TS is the raw stored text.
type Record struct {
	ID int64
	TS string
	Measurements
}

// DayBucket is the representative record of one UTC calendar day.
type DayBucket struct {
	Day string
	Record
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
