package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/dedupe"
	"github.com/casafind/market-stats-cache/internal/scopekey"
	"github.com/casafind/market-stats-cache/internal/snapstore"
	"github.com/casafind/market-stats-cache/internal/staleness"
)

type fakeStore struct {
	mu      sync.Mutex
	data    map[string]snapstore.Snapshot
	gets    int
	upserts int
	failPut bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]snapstore.Snapshot{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (snapstore.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	s, ok := f.data[key]
	if !ok {
		return snapstore.Snapshot{}, snapstore.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) Upsert(_ context.Context, key string, snap snapstore.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failPut {
		return errors.New("disk on fire")
	}
	f.data[key] = snap
	return nil
}

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

type fakeRunner struct {
	mu      sync.Mutex
	runs    int
	fail    bool
	block   chan struct{} // optional; Run waits on it when set
	payload json.RawMessage
}

func (f *fakeRunner) Run(_ context.Context, _ model.StatsRequest, _ time.Time) (json.RawMessage, error) {
	f.mu.Lock()
	f.runs++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.fail {
		return nil, errors.New("upstream down")
	}
	if f.payload != nil {
		return f.payload, nil
	}
	return json.RawMessage(`{"sales":1}`), nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

var frozenNow = time.Date(2025, time.November, 14, 12, 0, 0, 0, time.UTC)

func newCoordinator(store Store, agg Runner, memo *dedupe.Cache) *Coordinator {
	c := New(store, agg, memo, Config{
		Policy: staleness.New(25 * 24 * time.Hour),
		RefreshOnStale: map[model.Resource]bool{
			model.ResourceMarket:    true,
			model.ResourcePropTypes: false,
		},
	}, nil)
	c.nowFn = func() time.Time { return frozenNow }
	return c
}

func torontoReq() model.StatsRequest {
	return model.StatsRequest{
		Resource: model.ResourceMarket,
		Area:     "Toronto",
		AreaKind: model.AreaCity,
		Years:    1,
	}
}

func seed(store *fakeStore, req model.StatsRequest, age time.Duration, payload string) string {
	key, _ := scopekey.Build(req, frozenNow)
	ks := key.String()
	store.data[ks] = snapstore.Snapshot{
		Payload:   json.RawMessage(payload),
		FetchedAt: frozenNow.Add(-age),
	}
	return ks
}

func TestMissThenHit_SecondRequestSkipsUpstream(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{}
	c := newCoordinator(store, agg, nil)

	res, err := c.Serve(context.Background(), torontoReq())
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if res.Cached || res.Stale {
		t.Fatalf("first request must be a computed miss: %+v", res)
	}
	if store.len() != 1 {
		t.Fatalf("miss must persist a snapshot")
	}
	if res.LastFetchedAt.IsZero() {
		t.Fatalf("fresh result must carry its fetch time")
	}

	res2, err := c.Serve(context.Background(), torontoReq())
	if err != nil {
		t.Fatalf("Serve repeat: %v", err)
	}
	if !res2.Cached || res2.Stale {
		t.Fatalf("repeat request must be a fresh hit: %+v", res2)
	}
	if agg.runCount() != 1 {
		t.Fatalf("repeat request must issue zero upstream calls, runs=%d", agg.runCount())
	}
	if string(res2.Payload) != string(res.Payload) {
		t.Fatalf("round trip changed the payload")
	}
}

func TestStaleSnapshot_MarketRefreshesSynchronously(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{payload: json.RawMessage(`{"sales":99}`)}
	c := newCoordinator(store, agg, nil)

	seed(store, torontoReq(), 40*24*time.Hour, `{"sales":1}`)

	res, err := c.Serve(context.Background(), torontoReq())
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if agg.runCount() != 1 {
		t.Fatalf("stale market snapshot must trigger a refresh")
	}
	if res.Stale || string(res.Payload) != `{"sales":99}` {
		t.Fatalf("refresh result must be fresh: %+v", res)
	}
}

func TestStaleSnapshot_PropTypesServedLazily(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{}
	c := newCoordinator(store, agg, nil)

	req := model.StatsRequest{Resource: model.ResourcePropTypes, Month: "2025-06"}
	seed(store, req, 40*24*time.Hour, `{"types":[]}`)

	res, err := c.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !res.Cached || !res.Stale {
		t.Fatalf("lazy policy must serve the stale snapshot marked stale: %+v", res)
	}
	if agg.runCount() != 0 {
		t.Fatalf("lazy policy must not refresh, runs=%d", agg.runCount())
	}
}

func TestRefreshFailure_FallsBackToStaleSnapshot(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{fail: true}
	c := newCoordinator(store, agg, nil)

	seed(store, torontoReq(), 40*24*time.Hour, `{"sales":7}`)

	res, err := c.Serve(context.Background(), torontoReq())
	if err != nil {
		t.Fatalf("stale fallback must not surface an error: %v", err)
	}
	if !res.Stale || !res.Cached {
		t.Fatalf("fallback must be marked stale: %+v", res)
	}
	if string(res.Payload) != `{"sales":7}` {
		t.Fatalf("fallback payload changed: %s", res.Payload)
	}
	if res.LastFetchedAt.IsZero() {
		t.Fatalf("fallback must report the old fetch time")
	}
}

func TestFirstRequestDuringOutage_HardError(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{fail: true}
	c := newCoordinator(store, agg, nil)

	_, err := c.Serve(context.Background(), torontoReq())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("want ErrNoSnapshot, got %v", err)
	}
}

func TestFilteredRequest_NeverWrites(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{}
	c := newCoordinator(store, agg, nil)

	req := torontoReq()
	req.SubArea = "Downtown"

	res, err := c.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if res.Cached || res.Stale {
		t.Fatalf("bypass result must be fresh and uncached: %+v", res)
	}
	if store.upserts != 0 || store.len() != 0 {
		t.Fatalf("a filtered request must never write, upserts=%d", store.upserts)
	}
	if agg.runCount() != 1 {
		t.Fatalf("bypass must always run the aggregator")
	}
}

func TestFilteredRequest_MemoAbsorbsRepeats(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{}
	memo := dedupe.New(16, time.Minute, time.Minute)
	defer memo.Close()
	c := newCoordinator(store, agg, memo)

	req := torontoReq()
	req.SubArea = "Downtown"

	if _, err := c.Serve(context.Background(), req); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := c.Serve(context.Background(), req); err != nil {
		t.Fatalf("Serve repeat: %v", err)
	}
	if agg.runCount() != 1 {
		t.Fatalf("memo must absorb the repeat, runs=%d", agg.runCount())
	}
	if store.upserts != 0 {
		t.Fatalf("memoized bypass must still never write")
	}
}

func TestFilteredRequestFailure_FallsBackToUnfilteredSnapshot(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{fail: true}
	c := newCoordinator(store, agg, nil)

	seed(store, torontoReq(), time.Hour, `{"sales":3}`)

	req := torontoReq()
	req.SubArea = "Downtown"

	res, err := c.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !res.Stale || string(res.Payload) != `{"sales":3}` {
		t.Fatalf("filtered failure must fall back to the scope snapshot: %+v", res)
	}
}

func TestForceRefresh_RunsAndPersists(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{payload: json.RawMessage(`{"sales":5}`)}
	c := newCoordinator(store, agg, nil)

	seed(store, torontoReq(), time.Hour, `{"sales":1}`) // fresh, would be a hit

	req := torontoReq()
	req.Refresh = true

	res, err := c.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if agg.runCount() != 1 {
		t.Fatalf("force refresh must run the aggregator")
	}
	if res.Cached || string(res.Payload) != `{"sales":5}` {
		t.Fatalf("force refresh must return the new payload: %+v", res)
	}

	key, _ := scopekey.Build(torontoReq(), frozenNow)
	if string(store.data[key.String()].Payload) != `{"sales":5}` {
		t.Fatalf("force refresh must overwrite the snapshot")
	}
}

func TestUpsertFailure_DoesNotFailTheResponse(t *testing.T) {
	store := newFakeStore()
	store.failPut = true
	agg := &fakeRunner{}
	c := newCoordinator(store, agg, nil)

	res, err := c.Serve(context.Background(), torontoReq())
	if err != nil {
		t.Fatalf("write failure must be swallowed: %v", err)
	}
	if len(res.Payload) == 0 {
		t.Fatalf("payload must still reach the caller")
	}
}

func TestConcurrentMisses_ShareOneRun(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{block: make(chan struct{})}
	c := newCoordinator(store, agg, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Serve(context.Background(), torontoReq())
		}(i)
	}

	// let every request reach the in-flight group before releasing
	time.Sleep(50 * time.Millisecond)
	close(agg.block)
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if len(results[i].Payload) == 0 {
			t.Fatalf("request %d: empty payload", i)
		}
	}
	if got := agg.runCount(); got != 1 {
		t.Fatalf("concurrent misses must share one run, runs=%d", got)
	}
}

func TestCanceledClient_DoesNotPoisonSharedRun(t *testing.T) {
	store := newFakeStore()
	agg := &fakeRunner{block: make(chan struct{})}
	c := newCoordinator(store, agg, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() {
		r, _ := c.Serve(ctx, torontoReq())
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	close(agg.block)

	r := <-done
	if len(r.Payload) == 0 {
		t.Fatalf("run detached from the request context must still complete")
	}
}
