package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"aquarium-dashboard/pkg/db"
	"aquarium-dashboard/pkg/events"
	"aquarium-dashboard/pkg/models"
	"aquarium-dashboard/pkg/status"
	"aquarium-dashboard/pkg/store"
	"aquarium-dashboard/pkg/validator"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakeChecker answers probes from a table and counts calls.
type fakeChecker struct {
	mu     sync.Mutex
	values map[int]string
	errs   map[int]error
	probes int
	valid  bool

	onProbe func(id int) // Runs before answering, under the lock
}

func (f *fakeChecker) Probe(ctx context.Context, ch models.Challenge) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.onProbe != nil {
		f.onProbe(ch.ID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := f.errs[ch.ID]; err != nil {
		return "", err
	}
	if v, ok := f.values[ch.ID]; ok {
		return v, nil
	}
	return models.StatusNormal, nil
}

func (f *fakeChecker) Validate(_ context.Context, ch models.Challenge, update validator.UpdateFunc) models.ValidationResult {
	if !f.valid {
		return models.ValidationResult{IsValid: false, Message: "not yet"}
	}
	update(status.Patch{status.MapChallengeIDToComponent(ch.ID): models.StatusNormal})
	return models.ValidationResult{IsValid: true, Message: "fixed"}
}

func (f *fakeChecker) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

// fakeSource serves a fixed challenge list or error.
type fakeSource struct {
	mu   sync.Mutex
	resp *models.ChallengesResponse
	err  error
}

func (f *fakeSource) CurrentChallenges(context.Context) (*models.ChallengesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fixture struct {
	svc   *Service
	store *store.Store
	kv    *db.MemoryDB
	bus   *events.Bus
}

func newFixture(t *testing.T, checker Checker, source ChallengeSource) fixture {
	t.Helper()
	kv := db.NewMemoryDB()
	bus := events.NewBus()
	st := store.New(kv, bus, "test-instance", zerolog.Nop())
	return fixture{
		svc:   NewService(st, checker, source, zerolog.Nop()),
		store: st,
		kv:    kv,
		bus:   bus,
	}
}

func remoteList(solvedIDs ...int) *models.ChallengesResponse {
	resp := &models.ChallengesResponse{}
	for id := 1; id <= 5; id++ {
		ch := models.Challenge{ID: id, Name: "challenge", Status: models.ChallengePending}
		for _, s := range solvedIDs {
			if s == id {
				ch.Status = models.ChallengeSolved
			}
		}
		resp.Challenges = append(resp.Challenges, ch)
	}
	resp.Total = len(resp.Challenges)
	return resp
}

func TestService_StartsPessimistic(t *testing.T) {
	f := newFixture(t, &fakeChecker{}, &fakeSource{err: errors.New("down")})

	st := f.svc.Status()
	if st.FeedingSystem != models.StatusError {
		t.Errorf("Expected feeding_system error, got %s", st.FeedingSystem)
	}
	if st.OverallStatus != models.StatusCritical {
		t.Errorf("Expected critical overall, got %s", st.OverallStatus)
	}
}

func TestService_LoadRestoresPersistedStatus(t *testing.T) {
	checker := &fakeChecker{}
	f := newFixture(t, checker, &fakeSource{err: errors.New("down")})
	ctx := context.Background()

	persisted := status.Merge(status.Default(time.Now()), status.Patch{
		models.ComponentEnvironmentalMonitoring: models.StatusNormal,
		models.ComponentSpeciesDatabase:         models.StatusNormal,
		models.ComponentFeedingSystem:           models.StatusNormal,
		models.ComponentRemoteMonitoring:        models.StatusNormal,
		models.ComponentAnalysisEngine:          models.StatusNormal,
	}, time.Now())
	f.store.SaveSystemStatus(ctx, persisted)

	f.svc.Load(ctx)

	if diff := cmp.Diff(persisted, f.svc.Status()); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}
	if checker.probeCount() != 0 {
		t.Errorf("A usable snapshot should not trigger probes, got %d", checker.probeCount())
	}
}

func TestService_LoadCorruptedStatusProbes(t *testing.T) {
	checker := &fakeChecker{values: map[int]string{3: models.StatusNormal}, errs: map[int]error{5: errors.New("timeout")}}
	f := newFixture(t, checker, &fakeSource{err: errors.New("down")})
	ctx := context.Background()

	if err := f.kv.Set(ctx, store.KeySystemStatus, "{not json"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	f.svc.Load(ctx)

	if checker.probeCount() != 5 {
		t.Errorf("Expected 5 probes, got %d", checker.probeCount())
	}
	st := f.svc.Status()
	if st.FeedingSystem != models.StatusNormal {
		t.Errorf("Expected feeding_system normal, got %s", st.FeedingSystem)
	}
	if st.AnalysisEngine != models.StatusDegraded {
		t.Errorf("Failed probe should fall back to degraded, got %s", st.AnalysisEngine)
	}
	if st.OverallStatus != models.StatusDegraded {
		t.Errorf("Expected degraded overall, got %s", st.OverallStatus)
	}

	persisted, ok := f.store.SystemStatus(ctx)
	if !ok {
		t.Fatal("Fresh snapshot should have replaced the corrupted one")
	}
	if diff := cmp.Diff(st, persisted); diff != "" {
		t.Errorf("Persisted status mismatch (-want +got):\n%s", diff)
	}
}

func TestService_RefreshStatusAllHealthy(t *testing.T) {
	f := newFixture(t, &fakeChecker{}, &fakeSource{err: errors.New("down")})

	st := f.svc.RefreshStatus(context.Background())
	if st.OverallStatus != models.StatusOperational {
		t.Errorf("Expected operational, got %s", st.OverallStatus)
	}
	if st.LastUpdated == "" {
		t.Error("Expected last_updated to be stamped")
	}
}

func TestService_RefreshStatusFeedingDown(t *testing.T) {
	checker := &fakeChecker{errs: map[int]error{3: errors.New("connection refused")}}
	f := newFixture(t, checker, &fakeSource{err: errors.New("down")})

	st := f.svc.RefreshStatus(context.Background())
	if st.FeedingSystem != models.StatusError {
		t.Errorf("Expected feeding_system error, got %s", st.FeedingSystem)
	}
	if st.OverallStatus != models.StatusCritical {
		t.Errorf("Expected critical, got %s", st.OverallStatus)
	}
}

func TestService_RefreshStatusCancelledKeepsStatus(t *testing.T) {
	tests := []struct {
		name string
		run  func(f fixture, checker *fakeChecker)
	}{
		{
			name: "cancelled before refresh",
			run: func(f fixture, _ *fakeChecker) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				f.svc.RefreshStatus(ctx)
			},
		},
		{
			name: "cancelled during refresh",
			run: func(f fixture, checker *fakeChecker) {
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				checker.mu.Lock()
				checker.onProbe = func(id int) {
					if id == 3 {
						cancel()
					}
				}
				checker.mu.Unlock()
				f.svc.RefreshStatus(ctx)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{}
			f := newFixture(t, checker, &fakeSource{err: errors.New("down")})
			ctx := context.Background()

			healthy := f.svc.RefreshStatus(ctx)
			if healthy.OverallStatus != models.StatusOperational {
				t.Fatalf("Expected operational after healthy refresh, got %s", healthy.OverallStatus)
			}

			changes, unsubscribe := f.bus.Subscribe(16)
			defer unsubscribe()

			tt.run(f, checker)

			if diff := cmp.Diff(healthy, f.svc.Status()); diff != "" {
				t.Errorf("In-memory status changed (-want +got):\n%s", diff)
			}
			persisted, ok := f.store.SystemStatus(ctx)
			if !ok {
				t.Fatal("Expected persisted status")
			}
			if diff := cmp.Diff(healthy, persisted); diff != "" {
				t.Errorf("Persisted status changed (-want +got):\n%s", diff)
			}
			select {
			case c := <-changes:
				t.Errorf("Abandoned refresh must not notify, got %+v", c)
			default:
			}
		})
	}
}

func TestService_ChallengesCacheWrittenOnChange(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{resp: remoteList()}
	f := newFixture(t, &fakeChecker{}, source)

	changes, unsubscribe := f.bus.Subscribe(16)
	defer unsubscribe()

	cacheWrites := func() int {
		n := 0
		for {
			select {
			case c := <-changes:
				if c.Key == store.KeyChallenges {
					n++
				}
			default:
				return n
			}
		}
	}

	f.svc.Challenges(ctx)
	source.mu.Lock()
	source.resp = remoteList() // Equal content, new pointers
	source.mu.Unlock()
	f.svc.Challenges(ctx)
	if n := cacheWrites(); n != 1 {
		t.Errorf("Expected 1 cache write for an unchanged list, got %d", n)
	}

	source.mu.Lock()
	source.resp = remoteList(2)
	source.mu.Unlock()
	f.svc.Challenges(ctx)
	if n := cacheWrites(); n != 1 {
		t.Errorf("Expected 1 cache write after the list changed, got %d", n)
	}
}

func TestService_ChallengesFallbackChain(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{resp: remoteList()}
	f := newFixture(t, &fakeChecker{}, source)

	list := f.svc.Challenges(ctx)
	if list.Total != 5 {
		t.Fatalf("Expected 5 challenges, got %d", list.Total)
	}
	if _, ok := f.store.Challenges(ctx); !ok {
		t.Error("Remote list should be cached")
	}

	// Remote goes down, cache answers
	source.mu.Lock()
	source.err = errors.New("down")
	source.mu.Unlock()
	f.svc.latest = nil

	list = f.svc.Challenges(ctx)
	if list.Total != 5 || list.Challenges[0].Name != "challenge" {
		t.Errorf("Expected cached list, got %+v", list.Challenges[0])
	}

	// Remote down and cache corrupted, catalog answers
	f.kv.Set(ctx, store.KeyChallenges, "garbage")
	f.svc.latest = nil

	list = f.svc.Challenges(ctx)
	if list.Total != 5 {
		t.Fatalf("Expected catalog fallback, got %d", list.Total)
	}
	if list.Challenges[0].Name == "challenge" {
		t.Error("Expected the built-in catalog, not the stale list")
	}
}

func TestService_ChallengesReconcileSolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeChecker{}, &fakeSource{resp: remoteList(1)})

	f.store.AddSolved(ctx, 4)

	list := f.svc.Challenges(ctx)
	if list.Solved != 2 {
		t.Errorf("Expected 2 solved, got %d", list.Solved)
	}
	for _, ch := range list.Challenges {
		want := models.ChallengePending
		if ch.ID == 1 || ch.ID == 4 {
			want = models.ChallengeSolved
		}
		if ch.Status != want {
			t.Errorf("Challenge %d: expected %s, got %s", ch.ID, want, ch.Status)
		}
	}

	if diff := cmp.Diff([]int{4}, f.store.SolvedIDs(ctx)); diff != "" {
		t.Errorf("Remote solved state should not be persisted locally (-want +got):\n%s", diff)
	}
}

func TestService_ResetSolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeChecker{}, &fakeSource{resp: remoteList()})

	f.store.AddSolved(ctx, 2)
	f.store.AddSolved(ctx, 5)

	if got := f.svc.ResetSolved(ctx); got.Cleared != 2 {
		t.Errorf("Expected 2 cleared, got %d", got.Cleared)
	}
	if list := f.svc.Challenges(ctx); list.Solved != 0 {
		t.Errorf("Expected no solved challenges after reset, got %d", list.Solved)
	}
}

func TestService_ValidateFeedingScheduleScenario(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/challenges/3/validate") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid":true,"message":"ok","system_component":{"name":"Feeding Schedule","status":"normal"}}`))
	}))
	defer server.Close()

	kv := db.NewMemoryDB()
	st := store.New(kv, events.NewBus(), "test-instance", zerolog.Nop())
	v := validator.New(validator.Options{AppOrigin: server.URL, APIBaseURL: server.URL + "/api"}, st, zerolog.Nop())
	svc := NewService(st, v, &fakeSource{err: errors.New("down")}, zerolog.Nop())
	ctx := context.Background()

	result, err := svc.ValidateChallenge(ctx, 3)
	if err != nil {
		t.Fatalf("ValidateChallenge failed: %v", err)
	}
	if !result.IsValid || result.Message != "ok" {
		t.Errorf("Unexpected result: %+v", result)
	}

	got := svc.Status()
	if got.FeedingSystem != models.StatusNormal {
		t.Errorf("Expected feeding_system normal, got %s", got.FeedingSystem)
	}
	if got.OverallStatus != models.StatusDegraded {
		t.Errorf("Expected degraded overall, got %s", got.OverallStatus)
	}
	if diff := cmp.Diff([]int{3}, st.SolvedIDs(ctx)); diff != "" {
		t.Errorf("Solved-set mismatch (-want +got):\n%s", diff)
	}
	if msg := svc.Message(ctx, 3); !msg.Present || msg.Message != "ok" {
		t.Errorf("Expected persisted message, got %+v", msg)
	}
	persisted, _ := st.SystemStatus(ctx)
	if persisted.FeedingSystem != models.StatusNormal {
		t.Error("Merged status should be persisted")
	}
}

func TestService_ValidateUnknownChallenge(t *testing.T) {
	f := newFixture(t, &fakeChecker{valid: true}, &fakeSource{err: errors.New("down")})

	if _, err := f.svc.ValidateChallenge(context.Background(), 42); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("Expected ErrChallengeNotFound, got %v", err)
	}
}

func TestService_Confirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeChecker{}, &fakeSource{err: errors.New("down")})

	out, err := f.svc.Confirm(ctx, 2, models.ConfirmLecture)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !out.Lecture || out.Solution {
		t.Errorf("Unexpected confirmations: %+v", out)
	}

	if _, err := f.svc.Confirm(ctx, 2, "spoiler"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Expected ErrInvalidKind, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, 99, models.ConfirmSolution); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("Expected ErrChallengeNotFound, got %v", err)
	}
}

func TestService_Visitor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeChecker{}, &fakeSource{err: errors.New("down")})

	if f.svc.Visitor(ctx).HasVisited {
		t.Error("Fresh store should not report a visit")
	}
	f.svc.MarkVisited(ctx)
	if !f.svc.Visitor(ctx).HasVisited {
		t.Error("Expected visit to be recorded")
	}
}

func TestService_ResyncOnlyReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeChecker{}, &fakeSource{err: errors.New("down")})

	// Another process writes a healthy snapshot directly to the backend
	other := store.New(f.kv, nil, "other-instance", zerolog.Nop())
	healthy := status.Merge(models.SystemStatus{}, status.Patch{
		models.ComponentEnvironmentalMonitoring: models.StatusOnline,
		models.ComponentSpeciesDatabase:         models.StatusOnline,
		models.ComponentFeedingSystem:           models.StatusOnline,
		models.ComponentRemoteMonitoring:        models.StatusOnline,
		models.ComponentAnalysisEngine:          models.StatusOnline,
	}, time.Now())
	other.SaveSystemStatus(ctx, healthy)

	changes, unsubscribe := f.bus.Subscribe(8)
	defer unsubscribe()

	f.svc.Resync(ctx)

	if got := f.svc.Status(); got.OverallStatus != models.StatusOperational {
		t.Errorf("Expected re-synced operational status, got %s", got.OverallStatus)
	}
	select {
	case c := <-changes:
		t.Errorf("Resync must not write, saw change %+v", c)
	default:
	}
}
