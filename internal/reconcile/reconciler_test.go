package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinfolio/internal/domain"
	"coinfolio/internal/fetcher"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[domain.Pair]map[time.Time]domain.RateRecord

	inserts   int
	failAfter int // fail the Nth insert when > 0
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[domain.Pair]map[time.Time]domain.RateRecord)}
}

func (s *fakeStore) seed(pair domain.Pair, day string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	if s.records[pair] == nil {
		s.records[pair] = make(map[time.Time]domain.RateRecord)
	}
	s.records[pair][d] = domain.RateRecord{Pair: pair, Day: d, Value: decimal.NewFromInt(value)}
}

func (s *fakeStore) has(pair domain.Pair, day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := time.Parse("2006-01-02", day)
	_, ok := s.records[pair][d]
	return ok
}

func (s *fakeStore) count(pair domain.Pair) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[pair])
}

func (s *fakeStore) NewestRateRecord(ctx context.Context, pair domain.Pair) (domain.RateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest domain.RateRecord
	found := false
	for _, record := range s.records[pair] {
		if !found || record.Day.After(newest.Day) {
			newest = record
			found = true
		}
	}
	return newest, found, nil
}

func (s *fakeStore) InsertRateRecord(ctx context.Context, record domain.RateRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inserts++
	if s.failAfter > 0 && s.inserts >= s.failAfter {
		return false, errors.New("disk full")
	}

	day := domain.DayFloor(record.Day)
	if s.records[record.Pair] == nil {
		s.records[record.Pair] = make(map[time.Time]domain.RateRecord)
	}
	if _, exists := s.records[record.Pair][day]; exists {
		return false, nil
	}
	s.records[record.Pair][day] = record
	return true, nil
}

type fakeHistory struct {
	mu     sync.Mutex
	points []domain.RatePoint
	err    error
	calls  int
	since  time.Time

	block chan struct{} // when set, FetchRateHistory waits on it
}

func (f *fakeHistory) FetchCurrentRate(ctx context.Context, pair domain.Pair) (fetcher.RateQuote, error) {
	return fetcher.RateQuote{}, errors.New("not implemented")
}

func (f *fakeHistory) FetchRateHistory(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.RatePoint, error) {
	f.mu.Lock()
	f.calls++
	f.since = since
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func point(ts string, value int64) domain.RatePoint {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return domain.RatePoint{Time: t, Value: decimal.NewFromInt(value)}
}

func fixedNow(ts string) func() time.Time {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

var testPair = domain.NewPair("BTC", "USD")

func newTestReconciler(history fetcher.RateFetcher, store RateRecordStore, now func() time.Time) *Reconciler {
	r := New(history, store, zerolog.Nop())
	r.now = now
	return r
}

func TestReconcileFillsGapExcludingToday(t *testing.T) {
	store := newFakeStore()
	store.seed(testPair, "2024-01-01", 40000)
	store.seed(testPair, "2024-01-02", 41000)
	store.seed(testPair, "2024-01-03", 42000)
	store.seed(testPair, "2024-01-04", 43000)
	store.seed(testPair, "2024-01-05", 44000)

	history := &fakeHistory{points: []domain.RatePoint{
		point("2024-01-06T00:00:00Z", 45000),
		point("2024-01-07T00:00:00Z", 46000),
		point("2024-01-08T00:00:00Z", 47000),
		point("2024-01-09T08:00:00Z", 48000), // today: cache only, never history
	}}

	r := newTestReconciler(history, store, fixedNow("2024-01-09T15:00:00Z"))

	outcome, err := r.Reconcile(context.Background(), testPair, time.Time{})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if outcome.Inserted != 3 || outcome.Duplicates != 0 {
		t.Fatalf("outcome = %+v, want 3 inserted / 0 duplicates", outcome)
	}

	since, _ := time.Parse(time.RFC3339, "2024-01-06T00:00:00Z")
	if !history.since.Equal(since) {
		t.Fatalf("fetched since %s, want %s", history.since, since)
	}

	for _, day := range []string{"2024-01-06", "2024-01-07", "2024-01-08"} {
		if !store.has(testPair, day) {
			t.Fatalf("missing record for %s", day)
		}
	}
	if store.has(testPair, "2024-01-09") {
		t.Fatal("today's partial data must never be persisted")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.seed(testPair, "2024-01-05", 44000)

	history := &fakeHistory{points: []domain.RatePoint{
		point("2024-01-06T00:00:00Z", 45000),
		point("2024-01-07T00:00:00Z", 46000),
	}}

	r := newTestReconciler(history, store, fixedNow("2024-01-08T10:00:00Z"))

	first, err := r.Reconcile(context.Background(), testPair, time.Time{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Inserted != 2 {
		t.Fatalf("first run inserted %d, want 2", first.Inserted)
	}

	second, err := r.Reconcile(context.Background(), testPair, time.Time{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Inserted != 0 || second.Duplicates != 0 {
		t.Fatalf("second run = %+v, want nothing to do", second)
	}
	if history.callCount() != 1 {
		t.Fatalf("second run should exit before fetching, fetch calls = %d", history.callCount())
	}
}

func TestReconcileEmptyHistoryStartsFromEarliest(t *testing.T) {
	store := newFakeStore()
	history := &fakeHistory{points: []domain.RatePoint{
		point("2024-01-05T12:00:00Z", 44000),
		point("2024-01-06T12:00:00Z", 45000),
	}}

	r := newTestReconciler(history, store, fixedNow("2024-01-07T09:00:00Z"))

	earliest, _ := time.Parse(time.RFC3339, "2024-01-05T08:30:00Z")
	outcome, err := r.Reconcile(context.Background(), testPair, earliest)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if outcome.Inserted != 2 {
		t.Fatalf("inserted %d, want 2", outcome.Inserted)
	}

	wantSince, _ := time.Parse(time.RFC3339, "2024-01-05T00:00:00Z")
	if !history.since.Equal(wantSince) {
		t.Fatalf("fetched since %s, want earliest floored to %s", history.since, wantSince)
	}
}

func TestReconcileFullyReconciledExitsFast(t *testing.T) {
	store := newFakeStore()
	store.seed(testPair, "2024-01-08", 47000)

	history := &fakeHistory{}
	r := newTestReconciler(history, store, fixedNow("2024-01-09T04:00:00Z"))

	outcome, err := r.Reconcile(context.Background(), testPair, time.Time{})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if outcome.Inserted != 0 || outcome.Duplicates != 0 {
		t.Fatalf("outcome = %+v, want no-op", outcome)
	}
	if history.callCount() != 0 {
		t.Fatal("fully reconciled pair must not hit the remote source")
	}
}

func TestReconcileCollapsesSubDayPoints(t *testing.T) {
	store := newFakeStore()
	store.seed(testPair, "2024-01-05", 44000)

	history := &fakeHistory{points: []domain.RatePoint{
		point("2024-01-06T06:00:00Z", 45000),
		point("2024-01-06T18:00:00Z", 45500),
	}}

	r := newTestReconciler(history, store, fixedNow("2024-01-07T02:00:00Z"))

	outcome, err := r.Reconcile(context.Background(), testPair, time.Time{})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if outcome.Inserted != 1 || outcome.Duplicates != 0 {
		t.Fatalf("outcome = %+v, want exactly one insert for the day", outcome)
	}

	newest, ok, _ := store.NewestRateRecord(context.Background(), testPair)
	if !ok || !newest.Value.Equal(decimal.NewFromInt(45500)) {
		t.Fatalf("kept value %s, want the day's last point 45500", newest.Value)
	}
}

func TestReconcileFetchErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.seed(testPair, "2024-01-05", 44000)

	history := &fakeHistory{err: errors.New("rate limited")}
	r := newTestReconciler(history, store, fixedNow("2024-01-08T10:00:00Z"))

	if _, err := r.Reconcile(context.Background(), testPair, time.Time{}); err == nil {
		t.Fatal("fetch failure must surface to the caller")
	}
	if store.count(testPair) != 1 {
		t.Fatal("store must be untouched after a fetch failure")
	}
}

func TestReconcilePersistErrorKeepsPartialProgress(t *testing.T) {
	store := newFakeStore()
	store.seed(testPair, "2024-01-03", 42000)
	store.failAfter = 3 // first two inserts succeed

	history := &fakeHistory{points: []domain.RatePoint{
		point("2024-01-04T00:00:00Z", 43000),
		point("2024-01-05T00:00:00Z", 44000),
		point("2024-01-06T00:00:00Z", 45000),
	}}

	r := newTestReconciler(history, store, fixedNow("2024-01-07T12:00:00Z"))

	outcome, err := r.Reconcile(context.Background(), testPair, time.Time{})
	if err == nil {
		t.Fatal("persistence failure must surface to the caller")
	}
	if outcome.Inserted != 2 {
		t.Fatalf("inserted %d before the failure, want 2 retained", outcome.Inserted)
	}
	if !store.has(testPair, "2024-01-04") || !store.has(testPair, "2024-01-05") {
		t.Fatal("records committed before the failure must be kept")
	}
}

func TestReconcileCoalescesConcurrentRuns(t *testing.T) {
	store := newFakeStore()
	store.seed(testPair, "2024-01-05", 44000)

	release := make(chan struct{})
	history := &fakeHistory{
		points: []domain.RatePoint{point("2024-01-06T00:00:00Z", 45000)},
		block:  release,
	}

	r := newTestReconciler(history, store, fixedNow("2024-01-07T12:00:00Z"))

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			outcome, err := r.Reconcile(context.Background(), testPair, time.Time{})
			if err != nil {
				t.Errorf("reconcile %d failed: %v", n, err)
			}
			outcomes[n] = outcome
		}(i)
	}

	// Let the second request arrive before the first completes.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if history.callCount() != 1 {
		t.Fatalf("fetch calls = %d, want 1 shared run", history.callCount())
	}
	if outcomes[0].Inserted != 1 || outcomes[1].Inserted != 1 {
		t.Fatalf("both callers should share the outcome, got %+v", outcomes)
	}
	if store.count(testPair) != 2 {
		t.Fatalf("store has %d records, want 2", store.count(testPair))
	}
}
