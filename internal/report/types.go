// Package report turns a batch of greenhouse temperature records into a prompt
// for the remote text model and assembles the numeric summary returned with the
// generated report.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Unknown is used for the chip id and interval bounds when the batch does not
// carry them.
const Unknown = "desconhecido"

// Known statistics keys. The same names are used on input and in the summary,
// except TotalRecords which feeds the summary's "registros" field.
const (
	KeyMean          = "media"
	KeyMin           = "min"
	KeyMax           = "max"
	KeyStd           = "std"
	KeyVariance      = "variancia"
	KeyCVOutlier     = "cvoutlier"
	KeyCVNoOutlier   = "cvnooutlier"
	KeyTotalRecords  = "totalRecords"
	KeyTotalOutliers = "totalOutliers"
)

// Record is one sensor reading. Every field is optional; a field sent as JSON
// null is treated the same as an absent one.
//
// ChipID accepts any JSON value since devices report it as a string or a
// number; see Chip.
type Record struct {
	Value     *float64        `json:"value,omitempty"`
	Timestamp *string         `json:"timestamp,omitempty"`
	ChipID    json.RawMessage `json:"chipId,omitempty"`
}

// Chip returns the chip id as text. Strings are unquoted, other values are
// rendered as compact JSON. ok is false when the id is absent or null.
func (r Record) Chip() (id string, ok bool) {
	raw := bytes.TrimSpace(r.ChipID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}

// Request is the body of POST /gerar-report.
type Request struct {
	Records    []Record    `json:"records"`
	Statistics *Statistics `json:"statistics"`
}

// ValidationError reports request content that cannot be interpreted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Statistics is an ordered mapping of named aggregates. Values are kept as raw
// JSON so a field that was never sent (Get returns nil) stays distinguishable
// from one sent as null (Get returns "null").
type Statistics struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewStatistics returns an empty block.
func NewStatistics() *Statistics {
	return &Statistics{values: make(map[string]json.RawMessage)}
}

// Set stores a raw JSON value, keeping first-insertion order.
func (s *Statistics) Set(key string, raw json.RawMessage) {
	if s.values == nil {
		s.values = make(map[string]json.RawMessage)
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = raw
}

// SetFloat stores a number. NaN and infinities have no JSON form and are
// stored as null.
func (s *Statistics) SetFloat(key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		s.Set(key, json.RawMessage("null"))
		return
	}
	s.Set(key, json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64)))
}

// Get returns the raw value for key, or nil when the key is absent.
func (s *Statistics) Get(key string) json.RawMessage {
	if s == nil {
		return nil
	}
	return s.values[key]
}

// Has reports whether key is present, including when its value is null.
func (s *Statistics) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.values[key]
	return ok
}

// Len returns the number of keys present.
func (s *Statistics) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the keys in insertion order.
func (s *Statistics) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// UnmarshalJSON accepts only a JSON object.
func (s *Statistics) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &ValidationError{Field: "statistics", Reason: "must be a JSON object"}
	}

	s.keys = nil
	s.values = make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return &ValidationError{Field: "statistics", Reason: "unexpected token"}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("statistics.%s: %w", key, err)
		}
		s.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON writes the block as an object in insertion order.
func (s *Statistics) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(s.values[k])
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Compact(&out, buf.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// String renders the block the way it is embedded in the prompt.
func (s *Statistics) String() string {
	b, err := s.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<statistics error: %v>", err)
	}
	return string(b)
}
