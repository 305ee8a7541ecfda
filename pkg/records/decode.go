package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRecord reports a decoded message missing a field or carrying a
// value of the wrong type.
var ErrInvalidRecord = errors.New("invalid record")

// ClaimFrom converts a decoded message into a Claim. Numbers may arrive as
// float64 (JSON, protobuf) or as integers (CBOR).
func ClaimFrom(m map[string]any) (Claim, error) {
	var (
		c   Claim
		err error
	)
	if c.ID, err = uintField(m, "id"); err != nil {
		return Claim{}, err
	}
	if c.PatientID, err = intField(m, "patient_id"); err != nil {
		return Claim{}, err
	}
	if c.Code, err = stringField(m, "code"); err != nil {
		return Claim{}, err
	}
	if c.Price, err = intField(m, "price"); err != nil {
		return Claim{}, err
	}
	return c, nil
}

// DiagnoseFrom converts a decoded message into a Diagnose.
func DiagnoseFrom(m map[string]any) (Diagnose, error) {
	var (
		d   Diagnose
		err error
	)
	if d.ID, err = uintField(m, "id"); err != nil {
		return Diagnose{}, err
	}
	if d.PatientID, err = intField(m, "patient_id"); err != nil {
		return Diagnose{}, err
	}
	if d.ICD10Code, err = stringField(m, "icd10_code"); err != nil {
		return Diagnose{}, err
	}
	return d, nil
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrInvalidRecord, key, m[key])
	}
	return v, nil
}

func uintField(m map[string]any, key string) (uint64, error) {
	switch v := m[key].(type) {
	case uint64:
		return v, nil
	case int64:
		if v >= 0 {
			return uint64(v), nil
		}
	case int:
		if v >= 0 {
			return uint64(v), nil
		}
	case float64:
		if v >= 0 && v == math.Trunc(v) && v < 1<<63 {
			return uint64(v), nil
		}
	case json.Number:
		var n uint64
		if _, err := fmt.Sscan(v.String(), &n); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %s is %v (%T), want a non-negative integer", ErrInvalidRecord, key, m[key], m[key])
}

func intField(m map[string]any, key string) (int, error) {
	n, err := uintField(m, key)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s=%d out of range", ErrInvalidRecord, key, n)
	}
	return int(n), nil
}
