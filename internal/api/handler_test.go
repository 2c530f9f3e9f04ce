package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/classroom-labs/internal/discussion"
	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/identity"
	"github.com/ashureev/classroom-labs/internal/store"
)

type fakeRepo struct {
	mu          sync.Mutex
	discussions map[string]*domain.Transcript
	lastList    store.ListOptions
	pingErr     error
}

func newFakeRepo(ts ...*domain.Transcript) *fakeRepo {
	f := &fakeRepo{discussions: make(map[string]*domain.Transcript)}
	for _, t := range ts {
		f.discussions[t.ID] = t
	}
	return f
}

func (f *fakeRepo) CreateDiscussion(_ context.Context, t *domain.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discussions[t.ID] = t
	return nil
}

func (f *fakeRepo) AppendUtterance(_ context.Context, _ string, _ domain.Utterance) error {
	return nil
}

func (f *fakeRepo) FinishDiscussion(_ context.Context, _ string, _ domain.Outcome, _ int, _ time.Time) error {
	return nil
}

func (f *fakeRepo) GetDiscussion(_ context.Context, id string) (*domain.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.discussions[id]
	if t == nil {
		return nil, nil
	}
	copy := *t
	return &copy, nil
}

func (f *fakeRepo) ListDiscussions(_ context.Context, opts store.ListOptions) ([]*domain.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = opts
	var out []*domain.Transcript
	for _, t := range f.discussions {
		if t.ClientID == opts.ClientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteDiscussionsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) AbandonActive(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (f *fakeRepo) Ping(_ context.Context) error                                 { return f.pingErr }
func (f *fakeRepo) Close() error                                                 { return nil }

func testRoster(t *testing.T) *domain.Roster {
	t.Helper()
	roster, err := domain.NewRoster([]domain.Participant{
		{Name: domain.TeacherName, Role: domain.RoleTeacher, Persona: domain.Persona{Description: "Leads the class."}},
		{Name: "Alvin", Role: domain.RoleStudent},
		{Name: domain.HumanName, Role: domain.RoleHuman},
	})
	if err != nil {
		t.Fatalf("NewRoster() error = %v", err)
	}
	return roster
}

func newTestRouter(t *testing.T, repo store.Repository, sm *discussion.SessionManager) http.Handler {
	t.Helper()
	base := NewHandler(repo, sm, testRoster(t))
	r := chi.NewRouter()
	base.RegisterRoutes(r)
	NewDiscussionHandler(base).RegisterRoutes(r)
	return r
}

func do(h http.Handler, method, target, clientID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if clientID != "" {
		req = req.WithContext(identity.WithClientID(req.Context(), clientID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatus(t *testing.T) {
	sm := discussion.NewSessionManager(nil)
	h := newTestRouter(t, nil, sm)

	var idle statusResponse
	rec := do(h, http.MethodGet, "/status", "")
	if err := json.NewDecoder(rec.Body).Decode(&idle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if idle.Status != "running" || idle.DiscussionActive || idle.Session != nil {
		t.Errorf("idle status = %+v", idle)
	}

	s := discussion.NewSession("anon", "kickoff", testRoster(t))
	if err := sm.Claim(context.Background(), s); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	s.Append("Teacher", "Welcome.")

	var busy statusResponse
	rec = do(h, http.MethodGet, "/status", "")
	if err := json.NewDecoder(rec.Body).Decode(&busy); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !busy.DiscussionActive || busy.Session == nil || busy.Session.ID != s.ID || busy.Session.Rounds != 1 {
		t.Errorf("busy status = %+v", busy)
	}
}

func TestReady(t *testing.T) {
	sm := discussion.NewSessionManager(nil)
	tests := []struct {
		name string
		repo store.Repository
		want int
	}{
		{"no archive", nil, http.StatusOK},
		{"healthy", newFakeRepo(), http.StatusOK},
		{"down", &fakeRepo{pingErr: errors.New("disk gone")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newTestRouter(t, tt.repo, sm), http.MethodGet, "/ready", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRoster(t *testing.T) {
	h := newTestRouter(t, nil, discussion.NewSessionManager(nil))
	rec := do(h, http.MethodGet, "/api/roster", "")

	var got []participantResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 || got[0].Name != "Teacher" || got[0].Role != domain.RoleTeacher || got[0].Description != "Leads the class." {
		t.Errorf("roster = %+v", got)
	}
}

func TestDiscussionRoutes(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo := newFakeRepo(
		&domain.Transcript{ID: "d1", ClientID: "anon_a", Outcome: domain.OutcomeConcluded, StartedAt: started},
		&domain.Transcript{ID: "d2", ClientID: "anon_b", Outcome: domain.OutcomeFailed, StartedAt: started},
	)
	h := newTestRouter(t, repo, discussion.NewSessionManager(nil))

	tests := []struct {
		name     string
		target   string
		clientID string
		want     int
	}{
		{"list own", "/api/discussions", "anon_a", http.StatusOK},
		{"list anonymous", "/api/discussions", "", http.StatusUnauthorized},
		{"list bad limit", "/api/discussions?limit=abc", "anon_a", http.StatusBadRequest},
		{"list limit too big", "/api/discussions?limit=1000", "anon_a", http.StatusBadRequest},
		{"get own", "/api/discussions/d1", "anon_a", http.StatusOK},
		{"get other client", "/api/discussions/d2", "anon_a", http.StatusNotFound},
		{"get missing", "/api/discussions/nope", "anon_a", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.target, tt.clientID)
			if rec.Code != tt.want {
				t.Errorf("GET %s status = %d, want %d (body %s)", tt.target, rec.Code, tt.want, rec.Body)
			}
		})
	}

	rec := do(h, http.MethodGet, "/api/discussions?limit=5", "anon_a")
	var list []domain.Transcript
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "d1" {
		t.Errorf("list = %+v, want only d1", list)
	}
	if repo.lastList.Limit != 5 || repo.lastList.ClientID != "anon_a" {
		t.Errorf("ListOptions = %+v", repo.lastList)
	}
}

func TestDiscussionRoutesDisabled(t *testing.T) {
	h := newTestRouter(t, nil, discussion.NewSessionManager(nil))
	if rec := do(h, http.MethodGet, "/api/discussions", "anon_a"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
