package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"energymon/backend/services/energy-service/internal/models"
)

// DecodeReading turns a sensor payload into a normalized Reading. A payload that carries
// `energy` but no `energy_kwh` has the value moved to EnergyKWh; a missing or empty `ts`
// becomes now. Non-numeric measurement values are rejected, never coerced.
func DecodeReading(payload []byte, now time.Time) (models.Reading, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return models.Reading{}, &DecodeError{Err: err}
	}

	reading, err := normalize(fields, now)
	if err != nil {
		return models.Reading{}, &DecodeError{Err: err}
	}
	return reading, nil
}

func decodeObject(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty payload")
		}
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("payload is not an object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

func normalize(fields map[string]any, now time.Time) (models.Reading, error) {
	var (
		m   models.Measurements
		err error
	)
	targets := []struct {
		name string
		dst  **float64
	}{
		{"voltage", &m.Voltage},
		{"current", &m.Current},
		{"power", &m.Power},
		{"energy_kwh", &m.EnergyKWh},
		{"frequency", &m.Frequency},
		{"pf", &m.PowerFactor},
	}
	for _, target := range targets {
		if *target.dst, err = numberField(fields, target.name); err != nil {
			return models.Reading{}, err
		}
	}

	energy, err := numberField(fields, "energy")
	if err != nil {
		return models.Reading{}, err
	}
	if m.EnergyKWh == nil {
		m.EnergyKWh = energy
	}

	powerFactor, err := numberField(fields, "power_factor")
	if err != nil {
		return models.Reading{}, err
	}
	if m.PowerFactor == nil {
		m.PowerFactor = powerFactor
	}

	ts, err := timestampField(fields, now)
	if err != nil {
		return models.Reading{}, err
	}
	return models.Reading{Timestamp: ts, Measurements: m}, nil
}

func numberField(fields map[string]any, name string) (*float64, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return nil, nil
	}
	num, ok := raw.(json.Number)
	if !ok {
		return nil, &ValidationError{Field: name, Reason: fmt.Sprintf("expected number, got %T", raw)}
	}
	v, err := num.Float64()
	if err != nil {
		return nil, &ValidationError{Field: name, Reason: err.Error()}
	}
	return &v, nil
}

func timestampField(fields map[string]any, now time.Time) (time.Time, error) {
	raw, ok := fields["ts"]
	if !ok || raw == nil {
		return now.UTC(), nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, &ValidationError{Field: "ts", Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	if strings.TrimSpace(s) == "" {
		return now.UTC(), nil
	}
	ts, err := iso8601.ParseString(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "ts", Reason: err.Error()}
	}
	return ts.UTC(), nil
}
