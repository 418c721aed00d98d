package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitewatch/monitor/internal/api"
	"github.com/sitewatch/monitor/internal/model"
	"github.com/sitewatch/monitor/internal/runtime"
	"github.com/sitewatch/monitor/internal/store"
)

// fakeRuntime is a test double for the api.Runtime control surface.
type fakeRuntime struct {
	statuses map[string]runtime.Status
	started  []string
	stopped  []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{statuses: map[string]runtime.Status{}}
}

func (f *fakeRuntime) GetAll() []runtime.Status {
	out := make([]runtime.Status, 0, len(f.statuses))
	for _, s := range f.statuses {
		out = append(out, s)
	}
	return out
}

func (f *fakeRuntime) TryGet(id string) (runtime.Status, bool) {
	s, ok := f.statuses[id]
	return s, ok
}

func (f *fakeRuntime) Start(id string) {
	f.started = append(f.started, id)
	f.statuses[id] = runtime.Status{InstanceID: id, State: runtime.StateRunning}
}

func (f *fakeRuntime) Stop(id string) {
	f.stopped = append(f.stopped, id)
	f.statuses[id] = runtime.Status{InstanceID: id, State: runtime.StatePaused}
}

func (f *fakeRuntime) Restart(id string) {
	f.Stop(id)
	f.Start(id)
}

// newTestAPI builds the router over a fresh store with one instance and one
// target, with JWT disabled.
func newTestAPI(t *testing.T) (http.Handler, *store.Store, *fakeRuntime, *model.Target) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sitewatch.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	inst := &model.Instance{ID: "tenant-a", DisplayName: "Tenant A", Enabled: true,
		CheckIntervalSeconds: 60, ConcurrencyLimit: 1, TimeZoneID: "UTC"}
	if err := st.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	tgt := &model.Target{InstanceID: "tenant-a", URL: "https://example.com", Enabled: true}
	if err := st.CreateTarget(ctx, tgt); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	rt := newFakeRuntime()
	return api.NewRouter(api.NewServer(st, rt), nil), st, rt, tgt
}

func doRequest(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---- /healthz ---------------------------------------------------------------

func TestHealthz_Returns200(t *testing.T) {
	h, _, _, _ := newTestAPI(t)
	rec := doRequest(h, http.MethodGet, "/healthz")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

// ---- GET /api/v1/instances --------------------------------------------------

func TestListInstances_ReturnsWorkerStatuses(t *testing.T) {
	h, _, rt, _ := newTestAPI(t)
	rt.Start("tenant-a")

	rec := doRequest(h, http.MethodGet, "/api/v1/instances")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var statuses []runtime.Status
	if err := json.NewDecoder(rec.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].InstanceID != "tenant-a" {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestListInstances_EmptyIsJSONArray(t *testing.T) {
	h, _, _, _ := newTestAPI(t)
	rec := doRequest(h, http.MethodGet, "/api/v1/instances")
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

// ---- GET /api/v1/instances/{id} ---------------------------------------------

func TestGetInstance_Found(t *testing.T) {
	h, _, rt, _ := newTestAPI(t)
	rt.Start("tenant-a")

	rec := doRequest(h, http.MethodGet, "/api/v1/instances/tenant-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view struct {
		Instance *model.Instance `json:"instance"`
		Worker   *runtime.Status `json:"worker"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Instance == nil || view.Instance.ID != "tenant-a" {
		t.Errorf("instance = %+v", view.Instance)
	}
	if view.Worker == nil || view.Worker.State != runtime.StateRunning {
		t.Errorf("worker = %+v", view.Worker)
	}
}

func TestGetInstance_Missing404(t *testing.T) {
	h, _, _, _ := newTestAPI(t)
	rec := doRequest(h, http.MethodGet, "/api/v1/instances/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// ---- POST start/stop/restart ------------------------------------------------

func TestControlActions_DriveRuntime(t *testing.T) {
	h, _, rt, _ := newTestAPI(t)

	if rec := doRequest(h, http.MethodPost, "/api/v1/instances/tenant-a/start"); rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/api/v1/instances/tenant-a/stop"); rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/api/v1/instances/tenant-a/restart"); rec.Code != http.StatusOK {
		t.Fatalf("restart status = %d", rec.Code)
	}

	if len(rt.started) != 2 || len(rt.stopped) != 2 {
		t.Errorf("started=%v stopped=%v, want 2 each", rt.started, rt.stopped)
	}
}

func TestControlActions_UnknownInstance404(t *testing.T) {
	h, _, rt, _ := newTestAPI(t)
	rec := doRequest(h, http.MethodPost, "/api/v1/instances/nope/start")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(rt.started) != 0 {
		t.Error("runtime touched for unknown instance")
	}
}

// ---- GET /api/v1/instances/{id}/targets -------------------------------------

func putState(t *testing.T, st *store.Store, state *model.TargetState) {
	t.Helper()
	if err := st.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		return store.UpsertStateTx(tx, state)
	}); err != nil {
		t.Fatalf("UpsertStateTx: %v", err)
	}
}

func TestListTargets_StatusProjection(t *testing.T) {
	h, st, _, tgt := newTestAPI(t)
	now := time.Now().UTC()

	// Degraded: up, login seen before, gone now.
	putState(t, st, &model.TargetState{
		TargetID: tgt.ID, IsUp: true, LastCheckUTC: now, StateSinceUTC: now,
		LastChangeUTC: now, LoginDetectedEver: true,
	})

	rec := doRequest(h, http.MethodGet, "/api/v1/instances/tenant-a/targets")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var views []struct {
		Target *model.Target `json:"target"`
		Status string        `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Status != "Degraded" {
		t.Errorf("views = %+v, want one Degraded row", views)
	}
}

func TestListTargets_UnknownWhenNeverChecked(t *testing.T) {
	h, _, _, _ := newTestAPI(t)
	rec := doRequest(h, http.MethodGet, "/api/v1/instances/tenant-a/targets")
	var views []struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Status != "Unknown" {
		t.Errorf("views = %+v, want one Unknown row", views)
	}
}

// ---- GET /api/v1/instances/{id}/events --------------------------------------

func TestListEvents_ReturnsNewestFirst(t *testing.T) {
	h, st, _, _ := newTestAPI(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := &model.Event{InstanceID: "tenant-a", TimestampUTC: base.Add(time.Duration(i) * time.Minute),
			Type: model.EventAlertDown, Message: "down"}
		if err := st.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	rec := doRequest(h, http.MethodGet, "/api/v1/instances/tenant-a/events?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var events []*model.Event
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 || !events[0].TimestampUTC.After(events[1].TimestampUTC) {
		t.Errorf("events = %+v, want 2 newest first", events)
	}
}

func TestListEvents_BadPagination400(t *testing.T) {
	h, _, _, _ := newTestAPI(t)
	for _, q := range []string{"limit=0", "limit=x", "offset=-1", "offset=x"} {
		rec := doRequest(h, http.MethodGet, "/api/v1/instances/tenant-a/events?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", q, rec.Code)
		}
	}
}
