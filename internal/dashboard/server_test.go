package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/slaps/internal/dashboard/middleware"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

type fakeStore struct {
	byState map[task.State][]int
	bodies  map[int]string
}

func (s *fakeStore) List(_ context.Context, _ int, state task.State) ([]int, error) {
	return s.byState[state], nil
}
func (s *fakeStore) Transition(context.Context, int, int, task.State, task.State, string) error {
	return nil
}
func (s *fakeStore) Get(_ context.Context, _, issue int) (queue.Entry, error) {
	return queue.Entry{Issue: issue, Body: s.bodies[issue]}, nil
}
func (s *fakeStore) SetAttempt(context.Context, int, int, int) error   { return nil }
func (s *fakeStore) SetWorker(context.Context, int, int, string) error { return nil }
func (s *fakeStore) WriteTask(context.Context, int, int, task.State, string) error {
	return nil
}

var _ queue.Store = (*fakeStore)(nil)

func TestHandleWaveStatus(t *testing.T) {
	store := &fakeStore{byState: map[task.State][]int{
		task.StateOpen:   {1},
		task.StateClosed: {2, 3},
	}}
	s := NewServer(Config{}, store, []int{1}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/waves/1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["open"])
	assert.Equal(t, float64(2), body["closed"])
}

func TestHandleDLQ(t *testing.T) {
	store := &fakeStore{
		byState: map[task.State][]int{task.StateDead: {7}},
		bodies:  map[int]string{7: "dead-lettered"},
	}
	s := NewServer(Config{}, store, []int{1}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/dlq", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dead-lettered")
}

func TestHandlePause_NoPoolReturns503(t *testing.T) {
	store := &fakeStore{}
	s := NewServer(Config{}, store, []int{1}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/status/workers/pause", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlePause_RequiresAuthWhenEnabled(t *testing.T) {
	store := &fakeStore{}
	s := NewServer(Config{Auth: middleware.AuthConfig{Enabled: true, APIKeys: map[string]bool{"secret": true}}}, store, []int{1}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/status/workers/pause", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/status/workers/pause", nil)
	req2.Header.Set("X-API-Key", "secret")
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code, "auth passes, but no pool attached")
}
