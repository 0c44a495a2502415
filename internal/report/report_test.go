package report

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func decodeRequest(t *testing.T, body string) Request {
	t.Helper()
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	return req
}

func TestNormalize_EmptyBatch(t *testing.T) {
	for _, body := range []string{`{}`, `{"records": []}`, `{"records": null, "statistics": {"media": 1}}`} {
		_, err := Normalize(decodeRequest(t, body))
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("%s: err = %v, want ErrEmptyInput", body, err)
		}
	}
}

func TestNormalize_IndependentSequences(t *testing.T) {
	req := decodeRequest(t, `{"records": [{"timestamp":"t1"},{"value":5},{"timestamp":"t3","value":9}]}`)

	pc, err := Normalize(req)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if diff := cmp.Diff([]string{"t1", "t3"}, pc.Timestamps); diff != "" {
		t.Errorf("timestamps mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{5, 9}, pc.Values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if got := pc.Interval(); got != "t1 → t3" {
		t.Errorf("Interval() = %q, want %q", got, "t1 → t3")
	}
	if !pc.StatsDerived {
		t.Error("expected derived statistics")
	}
	if got := string(pc.Statistics.Get(KeyMean)); got != "7" {
		t.Errorf("media = %s, want 7", got)
	}
	if pc.ChipID != Unknown {
		t.Errorf("ChipID = %q, want %q", pc.ChipID, Unknown)
	}
	if pc.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", pc.RecordCount)
	}
}

func TestNormalize_DerivedStatistics(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		wantMean float64
		wantMin  float64
		wantMax  float64
	}{
		{"single", []float64{21.5}, 21.5, 21.5, 21.5},
		{"zero is a sample", []float64{0, 10}, 5, 0, 10},
		{"negative", []float64{-3, -1, 4}, 0, -3, 4},
		{"unordered", []float64{30, 10, 20, 40}, 25, 10, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{}
			for i := range tt.values {
				v := tt.values[i]
				req.Records = append(req.Records, Record{Value: &v})
			}

			pc, err := Normalize(req)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}

			got := map[string]float64{}
			for _, k := range []string{KeyMean, KeyMin, KeyMax} {
				var f float64
				if err := json.Unmarshal(pc.Statistics.Get(k), &f); err != nil {
					t.Fatalf("%s: %v", k, err)
				}
				got[k] = f
			}
			want := map[string]float64{KeyMean: tt.wantMean, KeyMin: tt.wantMin, KeyMax: tt.wantMax}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("statistics mismatch (-want +got):\n%s", diff)
			}

			for _, k := range []string{KeyStd, KeyVariance, KeyCVOutlier, KeyCVNoOutlier, KeyTotalRecords, KeyTotalOutliers} {
				if pc.Statistics.Has(k) {
					t.Errorf("derived block must not carry %s", k)
				}
			}
		})
	}
}

func TestNormalize_SuppliedStatisticsUsedVerbatim(t *testing.T) {
	req := decodeRequest(t, `{
		"records": [{"value": 1, "chipId": "estufa-7"}, {"value": 3}],
		"statistics": {"media": 99.5, "std": null, "extra": "x"}
	}`)

	pc, err := Normalize(req)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if pc.StatsDerived {
		t.Error("supplied statistics must not be recomputed")
	}
	if pc.Statistics != req.Statistics {
		t.Error("expected the caller's block to be used as-is")
	}
	if got := string(pc.Statistics.Get(KeyMean)); got != "99.5" {
		t.Errorf("media = %s, want 99.5", got)
	}
	if pc.Statistics.Has(KeyMin) {
		t.Error("supplied block must not be merged with derived fields")
	}
	if pc.ChipID != "estufa-7" {
		t.Errorf("ChipID = %q, want estufa-7", pc.ChipID)
	}
}

func TestNormalize_EmptyOrNullStatisticsFallBack(t *testing.T) {
	for _, stats := range []string{`null`, `{}`} {
		req := decodeRequest(t, `{"records": [{"value": 2}, {"value": 4}], "statistics": `+stats+`}`)
		pc, err := Normalize(req)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if !pc.StatsDerived {
			t.Errorf("statistics %s: expected derived block", stats)
		}
	}
}

func TestNormalize_NoValuesNoStatistics(t *testing.T) {
	req := decodeRequest(t, `{"records": [{"timestamp": "2024-05-01T10:00:00"}]}`)
	pc, err := Normalize(req)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if pc.Statistics != nil {
		t.Errorf("Statistics = %v, want nil", pc.Statistics)
	}
	if pc.Start != "2024-05-01T10:00:00" || pc.End != "2024-05-01T10:00:00" {
		t.Errorf("interval = %s", pc.Interval())
	}
}

func TestNormalize_MeanDoesNotOverflow(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"two huge", []float64{1e308, 1e308}, 1e308},
		{"huge and negative huge", []float64{math.MaxFloat64, -math.MaxFloat64}, 0},
		{"max float", []float64{math.MaxFloat64, math.MaxFloat64}, math.MaxFloat64},
		{"overflow with small values", []float64{1e308, 1e308, 0, 0}, 5e307},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DeriveStatistics(tt.values)
			var mean float64
			if err := json.Unmarshal(s.Get(KeyMean), &mean); err != nil {
				t.Fatalf("media = %s: %v", s.Get(KeyMean), err)
			}
			if mean != tt.want {
				t.Errorf("media = %g, want %g", mean, tt.want)
			}
			if strings.Contains(s.String(), "error") {
				t.Errorf("String() = %s", s.String())
			}
		})
	}
}

func TestNormalize_HugeValuesPromptCarriesStatistics(t *testing.T) {
	req := decodeRequest(t, `{"records": [{"value": 1e308}, {"value": 1e308}]}`)
	pc, err := Normalize(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pc.Statistics.MarshalJSON(); err != nil {
		t.Fatalf("derived block is not valid JSON: %v", err)
	}
	if strings.Contains(BuildPrompt(pc), "<statistics error") {
		t.Error("prompt embeds a statistics rendering error")
	}
}

func TestStatistics_SetFloatNonFinite(t *testing.T) {
	s := NewStatistics()
	s.SetFloat(KeyMean, math.Inf(1))
	s.SetFloat(KeyMin, math.NaN())
	if got := s.String(); got != `{"media":null,"min":null}` {
		t.Errorf("String() = %s", got)
	}
}

func TestNormalize_ChipIDAnyJSONType(t *testing.T) {
	tests := []struct {
		chip string
		want string
	}{
		{`"estufa-7"`, "estufa-7"},
		{`7`, "7"},
		{`12.5`, "12.5"},
		{`true`, "true"},
		{`{"id": 3}`, `{"id":3}`},
		{`null`, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.chip, func(t *testing.T) {
			req := decodeRequest(t, `{"records": [{"value": 1, "chipId": `+tt.chip+`}]}`)
			pc, err := Normalize(req)
			if err != nil {
				t.Fatal(err)
			}
			if pc.ChipID != tt.want {
				t.Errorf("ChipID = %q, want %q", pc.ChipID, tt.want)
			}
		})
	}
}

func TestStatistics_RejectsNonObject(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{"records": [], "statistics": "Estatísticas"}`), &req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestRecord_NonNumericValueRejected(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"records": [{"value": "hot"}]}`), &req); err == nil {
		t.Fatal("expected an error for a non-numeric value")
	}
}

func TestStatistics_KeepsOrderAndNulls(t *testing.T) {
	var s Statistics
	if err := json.Unmarshal([]byte(`{"max": 30, "min": 10, "std": null}`), &s); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"max", "min", "std"}, s.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if got := s.String(); got != `{"max":30,"min":10,"std":null}` {
		t.Errorf("String() = %s", got)
	}
	if !s.Has(KeyStd) || string(s.Get(KeyStd)) != "null" {
		t.Error("null field must be present with a null value")
	}
	if s.Has(KeyMean) || s.Get(KeyMean) != nil {
		t.Error("absent field must report absent")
	}
}

func TestBuildPrompt(t *testing.T) {
	req := Request{}
	for i := 1; i <= 12; i++ {
		v := float64(i)
		ts := "t" + string(rune('a'+i-1))
		req.Records = append(req.Records, Record{Value: &v, Timestamp: &ts})
	}
	req.Records[0].ChipID = json.RawMessage(`"chip-42"`)

	pc, err := Normalize(req)
	if err != nil {
		t.Fatal(err)
	}
	prompt := BuildPrompt(pc)

	for _, want := range []string{
		"chipId chip-42",
		"Intervalo de coleta: ta até tl",
		"Foram coletados 12 registros",
		`{"media":6.5,"min":1,"max":12}`,
		"[1, 2, 3, 4, 5, 6, 7, 8, 9, 10]",
		"BRT",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "11, 12") {
		t.Error("prompt sample must be limited to the first 10 values")
	}
	if BuildPrompt(pc) != prompt {
		t.Error("prompt must be deterministic")
	}
}

func TestBuildPrompt_NoStatistics(t *testing.T) {
	prompt := BuildPrompt(PromptContext{ChipID: Unknown, Start: Unknown, End: Unknown, RecordCount: 1})
	if !strings.Contains(prompt, noStatistics) {
		t.Errorf("prompt should state that statistics are missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[]") {
		t.Error("prompt should carry an empty sample")
	}
}

func TestNewSummary(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "derived",
			body: `{"records": [{"timestamp":"t1"},{"value":5},{"timestamp":"t3","value":9}]}`,
			want: `{"intervalo":"t1 → t3","registros":3,"media":7,"min":5,"max":9,"std":null,"variancia":null,"cvoutlier":null,"cvnooutlier":null,"totalOutliers":null}`,
		},
		{
			name: "supplied with totalRecords",
			body: `{"records": [{"value":1}], "statistics": {"media": 20.1, "min": 18, "max": 22, "std": 1.2, "variancia": 1.44, "cvoutlier": "5%", "cvnooutlier": "4%", "totalRecords": 500, "totalOutliers": 2}}`,
			want: `{"intervalo":"desconhecido → desconhecido","registros":500,"media":20.1,"min":18,"max":22,"std":1.2,"variancia":1.44,"cvoutlier":"5%","cvnooutlier":"4%","totalOutliers":2}`,
		},
		{
			name: "supplied without totalRecords keeps local count",
			body: `{"records": [{"value":1},{"value":2}], "statistics": {"media": 1.5}}`,
			want: `{"intervalo":"desconhecido → desconhecido","registros":2,"media":1.5,"min":null,"max":null,"std":null,"variancia":null,"cvoutlier":null,"cvnooutlier":null,"totalOutliers":null}`,
		},
		{
			name: "totalRecords sent as null wins",
			body: `{"records": [{"value":1}], "statistics": {"totalRecords": null}}`,
			want: `{"intervalo":"desconhecido → desconhecido","registros":null,"media":null,"min":null,"max":null,"std":null,"variancia":null,"cvoutlier":null,"cvnooutlier":null,"totalOutliers":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := Normalize(decodeRequest(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			got, err := json.Marshal(NewSummary(pc))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("summary mismatch\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}
