package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ptr[T any](v T) *T { return &v }

// storeContract exercises behavior every backend must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("insert and get", func(t *testing.T) {
		store := newStore(t)
		want := &Report{
			ID:           "r-1",
			TSStart:      time.Now().UnixMilli(),
			Status:       StatusInFlight,
			ChipID:       "chip-7",
			RecordCount:  3,
			ValueCount:   2,
			StatsDerived: true,
			Model:        "gemini-2.5-flash",
			PromptChars:  812,
		}
		if err := store.Insert(want); err != nil {
			t.Fatalf("Insert error: %v", err)
		}

		got, err := store.GetByID("r-1")
		if err != nil {
			t.Fatalf("GetByID error: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("GetByID mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		store := newStore(t)
		got, err := store.GetByID("missing")
		if err != nil || got != nil {
			t.Errorf("GetByID(missing) = %v, %v; want nil, nil", got, err)
		}
		if err := store.Update("missing", ReportUpdate{Status: ptr(StatusSuccess)}); err != nil {
			t.Errorf("Update(missing) error = %v", err)
		}
	})

	t.Run("update", func(t *testing.T) {
		store := newStore(t)
		if err := store.Insert(&Report{ID: "u-1", TSStart: time.Now().UnixMilli(), Status: StatusInFlight}); err != nil {
			t.Fatal(err)
		}

		end := time.Now().UnixMilli()
		err := store.Update("u-1", ReportUpdate{
			TSEnd:         &end,
			Status:        ptr(StatusError),
			Reason:        ptr(ReasonRateLimited),
			Attempts:      ptr(3),
			RateLimitHits: ptr(3),
			HTTPStatus:    ptr(429),
			DurationMs:    ptr(7200),
			ErrorClass:    ptr("rate_limited"),
		})
		if err != nil {
			t.Fatalf("Update error: %v", err)
		}

		got, _ := store.GetByID("u-1")
		if got.Status != StatusError || got.Reason != ReasonRateLimited {
			t.Errorf("status/reason = %s/%s", got.Status, got.Reason)
		}
		if got.TSEnd == nil || *got.TSEnd != end {
			t.Errorf("TSEnd = %v, want %d", got.TSEnd, end)
		}
		if got.Attempts != 3 || got.HTTPStatus != 429 || got.DurationMs != 7200 {
			t.Errorf("unexpected row: %+v", got)
		}
	})

	t.Run("list filters and pagination", func(t *testing.T) {
		store := newStore(t)
		now := time.Now().UnixMilli()
		old := &Report{ID: "old", TSStart: now - int64(2*time.Hour/time.Millisecond), Status: StatusSuccess, ChipID: "a"}
		if err := store.Insert(old); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 10; i++ {
			r := &Report{
				ID:      fmt.Sprintf("l-%d", i),
				TSStart: now - int64((10-i)*1000),
				Status:  StatusSuccess,
				ChipID:  "a",
			}
			if i%2 == 1 {
				r.Status = StatusRejected
				r.ChipID = "b"
			}
			if err := store.Insert(r); err != nil {
				t.Fatal(err)
			}
		}

		page, err := store.List(ListOptions{Limit: 3})
		if err != nil {
			t.Fatal(err)
		}
		ids := []string{}
		for _, r := range page {
			ids = append(ids, r.ID)
		}
		if diff := cmp.Diff([]string{"l-9", "l-8", "l-7"}, ids); diff != "" {
			t.Errorf("newest-first page mismatch (-want +got):\n%s", diff)
		}

		page, _ = store.List(ListOptions{Limit: 2, Offset: 2})
		if len(page) != 2 || page[0].ID != "l-7" {
			t.Errorf("offset page = %+v", page)
		}

		rejected, _ := store.List(ListOptions{Status: ptr(StatusRejected)})
		if len(rejected) != 5 {
			t.Errorf("rejected = %d, want 5", len(rejected))
		}

		chipA, _ := store.List(ListOptions{ChipID: "a"})
		if len(chipA) != 6 {
			t.Errorf("chip a = %d, want 6", len(chipA))
		}

		recent, _ := store.List(ListOptions{ChipID: "a", Window: time.Hour})
		if len(recent) != 5 {
			t.Errorf("chip a within 1h = %d, want 5", len(recent))
		}

		beyond, _ := store.List(ListOptions{Offset: 50})
		if len(beyond) != 0 {
			t.Errorf("offset past end returned %d rows", len(beyond))
		}
	})

	t.Run("overview", func(t *testing.T) {
		store := newStore(t)
		now := time.Now().UnixMilli()
		rows := []Report{
			{ID: "o-1", Status: StatusSuccess, RecordCount: 10, Attempts: 1, DurationMs: 100},
			{ID: "o-2", Status: StatusSuccess, RecordCount: 20, Attempts: 3, RateLimitHits: 2, DurationMs: 300},
			{ID: "o-3", Status: StatusError, Reason: ReasonRateLimited, RecordCount: 5, Attempts: 3, RateLimitHits: 3, DurationMs: 700},
			{ID: "o-4", Status: StatusRejected, Reason: ReasonEmptyInput, DurationMs: 0},
			{ID: "o-5", Status: StatusInFlight, RecordCount: 1},
		}
		for i := range rows {
			rows[i].TSStart = now
			if err := store.Insert(&rows[i]); err != nil {
				t.Fatal(err)
			}
		}

		got, err := store.Overview(time.Hour)
		if err != nil {
			t.Fatalf("Overview error: %v", err)
		}
		want := &Overview{
			TotalReports:  5,
			SuccessCount:  2,
			ErrorCount:    1,
			RejectedCount: 1,
			SuccessRate:   0.4,
			AvgDurationMs: 275,
			P95DurationMs: 700,
			TotalRecords:  36,
			Attempts:      7,
			RateLimitHits: 5,
			QuotaFailures: 1,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Overview mismatch (-want +got):\n%s", diff)
		}

		n, err := store.InFlightCount()
		if err != nil || n != 1 {
			t.Errorf("InFlightCount() = %d, %v; want 1", n, err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore(100) })
}

func TestMemoryStore_RingEviction(t *testing.T) {
	store := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		if err := store.Insert(&Report{ID: fmt.Sprintf("e-%d", i), TSStart: int64(i), Status: StatusInFlight}); err != nil {
			t.Fatal(err)
		}
	}

	if got, _ := store.GetByID("e-0"); got != nil {
		t.Error("oldest report should have been evicted")
	}
	if got, _ := store.GetByID("e-4"); got == nil {
		t.Error("newest report missing")
	}

	all, _ := store.List(ListOptions{})
	if len(all) != 3 || all[0].ID != "e-4" || all[2].ID != "e-2" {
		t.Errorf("List after eviction = %+v", all)
	}
	if n, _ := store.InFlightCount(); n != 3 {
		t.Errorf("InFlightCount() = %d, want 3", n)
	}
}

func TestMemoryStore_UpdateDoesNotAlias(t *testing.T) {
	store := NewMemoryStore(2)
	_ = store.Insert(&Report{ID: "x", Status: StatusInFlight})

	end := int64(42)
	_ = store.Update("x", ReportUpdate{TSEnd: &end})
	end = 99

	got, _ := store.GetByID("x")
	if *got.TSEnd != 42 {
		t.Errorf("TSEnd = %d, want 42", *got.TSEnd)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "", 10, nil)
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T", s)
	}

	s, err = Open("off", "", 10, nil)
	if err != nil || s != nil {
		t.Errorf("Open(off) = %v, %v; want nil, nil", s, err)
	}

	if _, err := Open("postgres", "", 10, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
