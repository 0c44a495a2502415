package report

import (
	"errors"
	"math"
)

// ErrEmptyInput is returned when the request carries no records.
var ErrEmptyInput = errors.New("report: no records received")

// PromptContext holds the fields derived from one request. It lives only for
// the duration of that request.
type PromptContext struct {
	ChipID      string
	Start       string
	End         string
	RecordCount int
	Values      []float64
	Timestamps  []string

	// Statistics is either the caller's block, used verbatim, or the minimal
	// block derived from Values. It is nil when neither is available.
	Statistics   *Statistics
	StatsDerived bool
}

// Interval renders the collection interval as "<start> → <end>".
func (p PromptContext) Interval() string {
	return p.Start + " → " + p.End
}

// Normalize validates the batch and derives the fields needed to build the
// prompt and the summary.
//
// Values and timestamps are extracted independently, in input order, so the
// two sequences may differ in length.
func Normalize(req Request) (PromptContext, error) {
	if len(req.Records) == 0 {
		return PromptContext{}, ErrEmptyInput
	}

	pc := PromptContext{
		ChipID:      Unknown,
		Start:       Unknown,
		End:         Unknown,
		RecordCount: len(req.Records),
	}

	if id, ok := req.Records[0].Chip(); ok {
		pc.ChipID = id
	}

	for _, r := range req.Records {
		if r.Value != nil {
			pc.Values = append(pc.Values, *r.Value)
		}
		if r.Timestamp != nil {
			pc.Timestamps = append(pc.Timestamps, *r.Timestamp)
		}
	}

	if n := len(pc.Timestamps); n > 0 {
		pc.Start = pc.Timestamps[0]
		pc.End = pc.Timestamps[n-1]
	}

	switch {
	case req.Statistics.Len() > 0:
		pc.Statistics = req.Statistics
	case len(pc.Values) > 0:
		pc.Statistics = DeriveStatistics(pc.Values)
		pc.StatsDerived = true
	}

	return pc, nil
}

// DeriveStatistics computes the fallback block: mean, min and max only.
// values must not be empty.
func DeriveStatistics(values []float64) *Statistics {
	sum := 0.0
	lo, hi := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	n := float64(len(values))
	mean := sum / n
	if math.IsInf(mean, 0) {
		// The sum overflowed. Averaging pre-scaled terms stays within the
		// range of the inputs.
		mean = 0
		for _, v := range values {
			mean += v / n
		}
	}

	s := NewStatistics()
	s.SetFloat(KeyMean, mean)
	s.SetFloat(KeyMin, lo)
	s.SetFloat(KeyMax, hi)
	return s
}
