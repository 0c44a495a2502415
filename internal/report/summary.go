package report

import (
	"encoding/json"
	"strconv"
)

// Summary is the "resumo" object of a successful response. Statistics that are
// not available are encoded as null.
type Summary struct {
	Interval      string          `json:"intervalo"`
	Records       json.RawMessage `json:"registros"`
	Mean          json.RawMessage `json:"media"`
	Min           json.RawMessage `json:"min"`
	Max           json.RawMessage `json:"max"`
	Std           json.RawMessage `json:"std"`
	Variance      json.RawMessage `json:"variancia"`
	CVOutlier     json.RawMessage `json:"cvoutlier"`
	CVNoOutlier   json.RawMessage `json:"cvnooutlier"`
	TotalOutliers json.RawMessage `json:"totalOutliers"`
}

// Response is the body of a successful POST /gerar-report.
type Response struct {
	Report  string  `json:"relatorio"`
	Summary Summary `json:"resumo"`
}

// NewSummary assembles the summary from the request's derived context.
//
// registros starts as the local record count and is replaced by the block's
// totalRecords when the caller sent that key.
func NewSummary(pc PromptContext) Summary {
	s := pc.Statistics
	sum := Summary{
		Interval:      pc.Interval(),
		Records:       json.RawMessage(strconv.Itoa(pc.RecordCount)),
		Mean:          s.Get(KeyMean),
		Min:           s.Get(KeyMin),
		Max:           s.Get(KeyMax),
		Std:           s.Get(KeyStd),
		Variance:      s.Get(KeyVariance),
		CVOutlier:     s.Get(KeyCVOutlier),
		CVNoOutlier:   s.Get(KeyCVNoOutlier),
		TotalOutliers: s.Get(KeyTotalOutliers),
	}
	if s.Has(KeyTotalRecords) {
		sum.Records = s.Get(KeyTotalRecords)
	}
	return sum
}
