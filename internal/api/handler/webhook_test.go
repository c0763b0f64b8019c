package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/model/dto"
	"github.com/codecrow/codecrow-server/internal/pkg/queue"
	"github.com/codecrow/codecrow-server/internal/pkg/response"
	"github.com/codecrow/codecrow-server/internal/repository"
	"github.com/codecrow/codecrow-server/internal/service"
	"github.com/codecrow/codecrow-server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func setupWebhookHandler(t *testing.T) (*WebhookHandler, *gorm.DB, *queue.Queue, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	jobService := service.NewJobService(
		repository.NewJobRepository(db),
		repository.NewJobLogRepository(db),
	)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewQueue(client, "test_webhook_queue")

	handler := NewWebhookHandler(jobService, repository.NewProjectRepository(db), q)

	cleanup := func() {
		client.Close()
		mr.Close()
		testutil.CleanupTestDB(t, db)
	}
	return handler, db, q, cleanup
}

func TestWebhookHandler_PROpened(t *testing.T) {
	handler, db, q, cleanup := setupWebhookHandler(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	router := gin.New()
	router.POST("/events", handler.HandleEvent)

	event := dto.WebhookEvent{
		EventType:      "pr:opened",
		Repository:     project.Repository,
		Branch:         "feature/x",
		TargetBranch:   "main",
		PRNumber:       42,
		CommitHash:     "abc123",
		AuthorUsername: "alice",
	}

	w := performRequest(router, "POST", "/events", event)
	resp := parseResponse(t, w)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	// 任务已入队
	msg, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, model.JobTypePRAnalysis, msg.JobType)
	assert.Equal(t, 42, msg.PRNumber)
	assert.Equal(t, project.ID, msg.ProjectID)
}

func TestWebhookHandler_PushForcesZeroPRNumber(t *testing.T) {
	handler, db, q, cleanup := setupWebhookHandler(t)
	defer cleanup()

	ws := testutil.TestWorkspace(t, db)
	project := testutil.TestProject(t, db, ws.ID)

	router := gin.New()
	router.POST("/events", handler.HandleEvent)

	// push 事件即便带了 pr_number 也按分支分析处理
	event := dto.WebhookEvent{
		EventType:  "push",
		Repository: project.Repository,
		Branch:     "main",
		PRNumber:   42,
		CommitHash: "def456",
	}

	w := performRequest(router, "POST", "/events", event)
	assert.Equal(t, http.StatusOK, w.Code)

	msg, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, model.JobTypeBranchAnalysis, msg.JobType)
	assert.Equal(t, 0, msg.PRNumber)
}

func TestWebhookHandler_UnknownEventIgnored(t *testing.T) {
	handler, _, q, cleanup := setupWebhookHandler(t)
	defer cleanup()

	router := gin.New()
	router.POST("/events", handler.HandleEvent)

	event := dto.WebhookEvent{
		EventType:  "issue:created",
		Repository: "ws/repo",
	}

	w := performRequest(router, "POST", "/events", event)
	resp := parseResponse(t, w)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	length, err := q.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestWebhookHandler_UnregisteredRepository(t *testing.T) {
	handler, _, _, cleanup := setupWebhookHandler(t)
	defer cleanup()

	router := gin.New()
	router.POST("/events", handler.HandleEvent)

	event := dto.WebhookEvent{
		EventType:  "pr:opened",
		Repository: "nobody/nothing",
		PRNumber:   1,
	}

	w := performRequest(router, "POST", "/events", event)
	resp := parseResponse(t, w)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestWebhookHandler_MissingFields(t *testing.T) {
	handler, _, _, cleanup := setupWebhookHandler(t)
	defer cleanup()

	router := gin.New()
	router.POST("/events", handler.HandleEvent)

	w := performRequest(router, "POST", "/events", map[string]string{"event_type": "pr:opened"})
	resp := parseResponse(t, w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeParamError, resp.Code)
}
