package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

// fakeStudyRepo is an in-memory StudyRepository.
type fakeStudyRepo struct {
	studies map[uuid.UUID]*db.Study
}

func newFakeStudyRepo() *fakeStudyRepo {
	return &fakeStudyRepo{studies: make(map[uuid.UUID]*db.Study)}
}

func (f *fakeStudyRepo) Create(_ context.Context, study *db.Study) error {
	for _, s := range f.studies {
		if s.Code == study.Code {
			return repositories.ErrConflict
		}
	}
	study.ID = uuid.New()
	f.studies[study.ID] = study
	return nil
}

func (f *fakeStudyRepo) GetByID(_ context.Context, id uuid.UUID) (*db.Study, error) {
	if s, ok := f.studies[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeStudyRepo) GetByCode(_ context.Context, code string) (*db.Study, error) {
	for _, s := range f.studies {
		if s.Code == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeStudyRepo) Update(_ context.Context, study *db.Study) error {
	if _, ok := f.studies[study.ID]; !ok {
		return repositories.ErrNotFound
	}
	f.studies[study.ID] = study
	return nil
}

func (f *fakeStudyRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.studies[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(f.studies, id)
	return nil
}

func (f *fakeStudyRepo) List(_ context.Context, _ repositories.ListOptions) ([]db.Study, int64, error) {
	out := make([]db.Study, 0, len(f.studies))
	for _, s := range f.studies {
		out = append(out, *s)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStudyRepo) ListAll(_ context.Context) ([]db.Study, error) {
	out, _, err := f.List(context.Background(), repositories.ListOptions{})
	return out, err
}

// recordingBroadcaster captures every broadcast event for assertions.
type recordingBroadcaster struct {
	events []events.ChangeEvent
}

func (r *recordingBroadcaster) Broadcast(e events.ChangeEvent) {
	r.events = append(r.events, e)
}

func newStudyTestRouter(t *testing.T) (*chi.Mux, *fakeStudyRepo, *recordingBroadcaster) {
	t.Helper()
	repo := newFakeStudyRepo()
	bc := &recordingBroadcaster{}
	h := NewStudyHandler(repo, bc, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/studies", h.List)
	r.Post("/studies", h.Create)
	r.Get("/studies/{id}", h.Get)
	r.Patch("/studies/{id}", h.Update)
	r.Delete("/studies/{id}", h.Delete)
	return r, repo, bc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateStudyBroadcastsWithOriginSession(t *testing.T) {
	router, repo, bc := newStudyTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/studies", map[string]string{
		"code":  "ONC-2026-001",
		"title": "Sample Study",
	}, "session-42")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.studies, 1)

	require.Len(t, bc.events, 1)
	e := bc.events[0]
	assert.Equal(t, events.EntityStudy, e.EntityType)
	assert.Equal(t, events.OpCreated, e.Operation)
	assert.Equal(t, "session-42", e.OriginSessionID)
	assert.NotEmpty(t, e.EntityID)
}

func TestCreateStudyRejectsDuplicateCodeWithoutBroadcast(t *testing.T) {
	router, _, bc := newStudyTestRouter(t)

	body := map[string]string{"code": "ONC-2026-001", "title": "Sample"}
	rec := doJSON(t, router, http.MethodPost, "/studies", body, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/studies", body, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Failed mutations must not emit events.
	assert.Len(t, bc.events, 1)
}

func TestCreateStudyValidatesInput(t *testing.T) {
	router, _, bc := newStudyTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/studies", map[string]string{"title": "no code"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/studies", map[string]string{
		"code": "X", "title": "bad status", "status": "bogus",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, bc.events)
}

func TestUpdateStudyAppliesOnlyProvidedFields(t *testing.T) {
	router, repo, bc := newStudyTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/studies", map[string]string{
		"code": "ONC-2026-001", "title": "Original", "phase": "nonclinical",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var id uuid.UUID
	for sid := range repo.studies {
		id = sid
	}

	rec = doJSON(t, router, http.MethodPatch, "/studies/"+id.String(), map[string]string{
		"title": "Renamed",
	}, "session-7")
	require.Equal(t, http.StatusOK, rec.Code)

	updated := repo.studies[id]
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "nonclinical", updated.Phase, "untouched fields must survive a partial update")

	require.Len(t, bc.events, 2)
	assert.Equal(t, events.OpUpdated, bc.events[1].Operation)
	assert.Equal(t, "session-7", bc.events[1].OriginSessionID)
}

func TestDeleteStudyBroadcastsIDOnlyPayload(t *testing.T) {
	router, repo, bc := newStudyTestRouter(t)

	doJSON(t, router, http.MethodPost, "/studies", map[string]string{
		"code": "ONC-2026-001", "title": "Doomed",
	}, "")
	var id uuid.UUID
	for sid := range repo.studies {
		id = sid
	}

	rec := doJSON(t, router, http.MethodDelete, "/studies/"+id.String(), nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Len(t, bc.events, 2)
	e := bc.events[1]
	assert.Equal(t, events.OpDeleted, e.Operation)
	assert.Equal(t, map[string]string{"id": id.String()}, e.Payload)
}

func TestGetStudyUnknownIDReturns404(t *testing.T) {
	router, _, _ := newStudyTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/studies/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/studies/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
