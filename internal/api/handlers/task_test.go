package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

func init() {
	logger.Init("error", false)
}

// fakeStore is a minimal in-memory storage.Store for exercising the
// handler layer without a database.
type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*task.Task)}
}

func (s *fakeStore) SaveTask(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	return t, nil
}

func (s *fakeStore) UpdateTask(ctx context.Context, id string, patch storage.TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrTaskNotFound
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	return nil
}

func (s *fakeStore) GetPending(ctx context.Context, limit int) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) GetInProgress(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusInProgress {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) CountBacklog(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tasks {
		if t.Status == task.StatusPending || t.Status == task.StatusInProgress {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) ClaimOne(ctx context.Context) (*task.Task, error) { return nil, nil }
func (s *fakeStore) SaveResult(ctx context.Context, taskID string, result []byte, taskErr *taskerr.TaskError) error {
	return nil
}
func (s *fakeStore) GetResult(ctx context.Context, taskID string) (*storage.Result, error) {
	return nil, nil
}
func (s *fakeStore) AppendMetric(ctx context.Context, name string, value float64, labels map[string]string) error {
	return nil
}
func (s *fakeStore) QueryMetrics(ctx context.Context, name string, from, to time.Time) ([]storage.MetricSample, error) {
	return nil, nil
}
func (s *fakeStore) TryAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	return true, nil
}
func (s *fakeStore) ReleaseAdvisoryLock(ctx context.Context, lockID int64) error { return nil }
func (s *fakeStore) CheckAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	return false, nil
}
func (s *fakeStore) MoveToDLQ(ctx context.Context, t *task.Task) error { return nil }
func (s *fakeStore) DLQCount(ctx context.Context) (int, error)        { return 0, nil }
func (s *fakeStore) GetDLQ(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (s *fakeStore) RemoveFromDLQ(ctx context.Context, id string) error { return nil }
func (s *fakeStore) CleanupDLQ(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}
func (s *fakeStore) Cleanup(ctx context.Context, before time.Time) (int, error) { return 0, nil }
func (s *fakeStore) Healthy(ctx context.Context) storage.Health                 { return storage.Health{OK: true} }
func (s *fakeStore) Close()                                                     {}

func TestTaskHandler_respondJSON(t *testing.T) {
	h := NewTaskHandler(newFakeStore(), 0)

	w := httptest.NewRecorder()
	data := map[string]string{"message": "hello"}

	h.respondJSON(w, http.StatusOK, data)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "hello", response["message"])
}

func TestTaskHandler_respondError(t *testing.T) {
	h := NewTaskHandler(newFakeStore(), 0)

	w := httptest.NewRecorder()
	h.respondError(w, http.StatusBadRequest, "invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "Bad Request", response.Error)
	assert.Equal(t, "invalid input", response.Message)
}

func TestTaskHandler_Create_InvalidJSON(t *testing.T) {
	h := NewTaskHandler(newFakeStore(), 0)

	body := bytes.NewBufferString("invalid json")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "invalid request body", response.Message)
}

func TestTaskHandler_Create_MissingType(t *testing.T) {
	h := NewTaskHandler(newFakeStore(), 0)

	reqBody := task.CreateTaskRequest{
		Type:    "",
		Payload: json.RawMessage(`{"key":"value"}`),
	}
	body, _ := json.Marshal(reqBody)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "task type is required and must be a valid kind", response.Message)
}

func TestTaskHandler_Create_Success(t *testing.T) {
	store := newFakeStore()
	h := NewTaskHandler(store, 0)

	reqBody := task.CreateTaskRequest{
		Type:     task.KindRead,
		Payload:  json.RawMessage(`{"key":"value"}`),
		Priority: "high",
	}
	body, _ := json.Marshal(reqBody)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp task.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "high", resp.Priority)
	assert.Equal(t, task.StatusPending.String(), resp.Status)
}

func TestTaskHandler_Create_QueueFull(t *testing.T) {
	store := newFakeStore()
	tk := task.New(task.KindRead, []byte(`{}`), task.PriorityNormal)
	require.NoError(t, store.SaveTask(context.Background(), tk))

	h := NewTaskHandler(store, 1)

	reqBody := task.CreateTaskRequest{Type: task.KindRead}
	body, _ := json.Marshal(reqBody)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Create(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "resource_exhausted", resp.Error)
}

func TestTaskHandler_Get_MissingID(t *testing.T) {
	h := NewTaskHandler(newFakeStore(), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("taskID", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.Get(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_Get_NotFound(t *testing.T) {
	h := NewTaskHandler(newFakeStore(), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("taskID", "missing")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskHandler_Cancel_MissingID(t *testing.T) {
	h := NewTaskHandler(newFakeStore(), 0)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("taskID", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.Cancel(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_Cancel_RejectsInProgress(t *testing.T) {
	store := newFakeStore()
	tk := task.New(task.KindRead, []byte(`{}`), task.PriorityNormal)
	tk.Status = task.StatusInProgress
	require.NoError(t, store.SaveTask(context.Background(), tk))

	h := NewTaskHandler(store, 0)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/"+tk.ID, nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("taskID", tk.ID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.Cancel(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestErrorResponse_Struct(t *testing.T) {
	resp := ErrorResponse{
		Error:   "Not Found",
		Message: "Task not found",
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded ErrorResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, resp.Error, decoded.Error)
	assert.Equal(t, resp.Message, decoded.Message)
}

func TestListResponse_Struct(t *testing.T) {
	resp := ListResponse{
		Pending: []*task.TaskResponse{
			{
				ID:       "task-1",
				Type:     task.KindRead,
				Priority: "high",
				Status:   "pending",
			},
		},
		TotalCount: 1,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded ListResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, 1, decoded.TotalCount)
	assert.Len(t, decoded.Pending, 1)
	assert.Equal(t, "task-1", decoded.Pending[0].ID)
}
