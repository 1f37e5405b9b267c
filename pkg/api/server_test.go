package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/events"
	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/queue"
)

type staticRouter struct{ command string }

func (r staticRouter) Route(context.Context, string) (string, error) {
	return r.command, nil
}

type memNotificationStore struct {
	rows []models.Notification
}

func (m *memNotificationStore) Insert(_ context.Context, n models.Notification) error {
	m.rows = append(m.rows, n)
	return nil
}

func (m *memNotificationStore) ByJobID(_ context.Context, jobID string) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range m.rows {
		if n.JobID == jobID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotificationStore) ByRecipient(_ context.Context, recipientID string, maxRows int) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range m.rows {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	if len(out) > maxRows {
		out = out[:maxRows]
	}
	return out, nil
}

type testHarness struct {
	engine     *gin.Engine
	queues     *queue.QueueSet
	verifier   *HMACVerifier
	userToken  string
	adminToken string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := config.NewAgentRegistry([]*config.AgentConfig{
		{
			RoutingCommand:     config.CommandMath,
			LLMSpecKey:         "openai:gpt-4o-mini",
			PromptTemplate:     "math.txt",
			SerializationTopic: "math",
			FormatterMode:      config.FormatterConversational,
			ProducesCode:       true,
			Cacheable:          true,
		},
	})
	require.NoError(t, err)

	queues := queue.NewQueueSet()
	scheduler := queue.NewScheduler(
		&config.QueueConfig{WorkerCount: 1, PollInterval: time.Second, JobTimeout: time.Minute},
		registry, queues, nil, staticRouter{command: config.CommandMath},
		nil, nil, nil, nil, nil)

	verifier := NewHMACVerifier("test-secret")
	manager := events.NewConnectionManager(verifier, time.Second, 0, nil)
	notifications := events.NewNotificationService(
		&memNotificationStore{}, queue.Directory{Queues: queues}, manager, nil)

	server := NewServer(scheduler, notifications, manager, verifier, nil, nil)
	engine := gin.New()
	server.Routes(engine)

	return &testHarness{
		engine:     engine,
		queues:     queues,
		verifier:   verifier,
		userToken:  verifier.Mint("alice", "alice@example.com", false),
		adminToken: verifier.Mint("root", "root@example.com", true),
	}
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPush(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/push", h.userToken,
		PushRequest{Question: "what is two plus two", WebsocketID: "wise penguin"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "alice", body["user_id"])
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, 1, h.queues.Todo.Len())
}

func TestPushRequiresAuth(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/push", "", PushRequest{Question: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/push", "tampered.token", PushRequest{Question: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPushValidation(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, "/api/push", h.userToken, PushRequest{Question: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQueueFilters(t *testing.T) {
	h := newTestHarness(t)
	h.do(t, http.MethodPost, "/api/push", h.userToken, PushRequest{Question: "one plus one"})
	h.do(t, http.MethodPost, "/api/push", h.adminToken, PushRequest{Question: "two plus two"})

	// Regular user sees only their own jobs.
	rec := h.do(t, http.MethodGet, "/api/get-queue/todo", h.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["filtered_by"])
	assert.Equal(t, false, body["is_admin_view"])
	assert.Equal(t, float64(1), body["total_jobs"])
	assert.Len(t, body["todo_jobs_metadata"], 1)

	// Wildcard is admin-only.
	rec = h.do(t, http.MethodGet, "/api/get-queue/todo?user_filter=*", h.userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/get-queue/todo?user_filter=*", h.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "*", body["filtered_by"])
	assert.Equal(t, float64(2), body["total_jobs"])

	// Unknown queue names are a validation failure.
	rec = h.do(t, http.MethodGet, "/api/get-queue/bogus", h.userToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetQueues(t *testing.T) {
	h := newTestHarness(t)
	h.do(t, http.MethodPost, "/api/push", h.userToken, PushRequest{Question: "one plus one"})

	rec := h.do(t, http.MethodPost, "/api/reset-queues", h.userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/reset-queues", h.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	cleared := body["cleared"].(map[string]any)
	assert.Equal(t, float64(1), cleared["todo"])
	assert.Equal(t, 0, h.queues.Todo.Len())
}

func TestGetJobInteractions(t *testing.T) {
	h := newTestHarness(t)
	job := &models.Job{IDHash: "job1", UserID: "alice", Status: models.JobStatusDoneOK}
	h.queues.Done.Push(job)

	rec := h.do(t, http.MethodGet, "/api/get-job-interactions/job1", h.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "job1", body["job"].(map[string]any)["id_hash"])

	rec = h.do(t, http.MethodGet, "/api/get-job-interactions/ghost", h.userToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobInteractionsDeadJob(t *testing.T) {
	h := newTestHarness(t)
	h.queues.Dead.Push(&models.Job{IDHash: "job1", UserID: "alice", Status: models.JobStatusDead,
		Error: "Code generation failed: all debug attempts exhausted"})

	rec := h.do(t, http.MethodGet, "/api/get-job-interactions/job1", h.userToken, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "Code generation failed:")
}

func TestMessageJob(t *testing.T) {
	h := newTestHarness(t)
	h.queues.Running.Push(&models.Job{IDHash: "job1", UserID: "alice", Status: models.JobStatusRunning})
	h.queues.Done.Push(&models.Job{IDHash: "job2", UserID: "alice", Status: models.JobStatusDoneOK})

	rec := h.do(t, http.MethodPost, "/api/jobs/job1/message", h.userToken,
		MessageJobRequest{Message: "wrap it up", Priority: "urgent"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["notification_id"])

	rec = h.do(t, http.MethodPost, "/api/jobs/job1/message", h.userToken,
		MessageJobRequest{Message: "hi", Priority: "shouty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Only running jobs accept messages.
	rec = h.do(t, http.MethodPost, "/api/jobs/job2/message", h.userToken,
		MessageJobRequest{Message: "hi", Priority: "normal"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitSession(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/init-session", h.userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Regexp(t, `^[a-z]+\s[a-z]+$`, body["session_id"])
	assert.Equal(t, "alice", body["user_id"])
}

func TestHealthWithoutDatabase(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebsocketRejectsMalformedSessionID(t *testing.T) {
	h := newTestHarness(t)
	server := httptest.NewServer(h.engine)
	defer server.Close()

	url := "ws" + server.URL[len("http"):] + "/ws/queue/WISE%20PENGUIN"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestTokenRoundTrip(t *testing.T) {
	v := NewHMACVerifier("secret")
	token := v.Mint("alice", "alice@example.com", true)

	userID, isAdmin, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
	assert.True(t, isAdmin)

	_, _, err = v.Verify(token + "x")
	assert.Error(t, err)

	other := NewHMACVerifier("different-secret")
	_, _, err = other.Verify(token)
	assert.Error(t, err)
}
