package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/converse/internal/agentfamily"
	"github.com/kandev/converse/internal/agentmanager"
	"github.com/kandev/converse/internal/collector"
	"github.com/kandev/converse/internal/common/logger"
	ctxmgr "github.com/kandev/converse/internal/context"
	"github.com/kandev/converse/internal/coordinator"
	"github.com/kandev/converse/internal/events/bus"
	"github.com/kandev/converse/internal/execenv"
	"github.com/kandev/converse/internal/model"
	"github.com/kandev/converse/internal/routing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

// noopEnv never gets exercised by these tests: both members are human, so
// the coordinator always pauses before dispatching any process.
type noopEnv struct{}

func (noopEnv) Start(ctx context.Context, spec execenv.Spec) (execenv.Process, error) {
	panic("unexpected process start in an all-human team")
}

func newTestRouter(t *testing.T) *gin.Engine {
	log := newTestLogger(t)
	agents := agentmanager.New(noopEnv{}, agentfamily.NewFactory(), bus.NewMemoryEventBus(log), collector.New(), nil, log)
	queue := routing.New(routing.Config{MaxQueueSize: 200, MaxBranchSize: 20, MaxLocalSeq: 3}, log)
	cm := ctxmgr.NewManager(5, 4000)
	coord := coordinator.New(queue, cm, agents, bus.NewMemoryEventBus(log), nil, time.Minute, log)

	team := &model.Team{
		ID:   "t1",
		Name: "team",
		Members: []*model.Member{
			{ID: "alice", Name: "alice", DisplayName: "Alice", Role: model.RoleHuman, Order: 0},
			{ID: "bob", Name: "bob", DisplayName: "Bob", Role: model.RoleHuman, Order: 1},
		},
	}
	if err := coord.SetTeam(context.Background(), team, ""); err != nil {
		t.Fatalf("SetTeam failed: %v", err)
	}

	router := gin.New()
	v1 := router.Group("/api/v1")
	SetupRoutes(v1, coord, log)
	return router
}

func TestSendMessageThenHistoryAndStatus(t *testing.T) {
	router := newTestRouter(t)

	body := strings.NewReader(`{"content":"hello [NEXT:bob]","sender_id":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var msg MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if msg.Text != "hello" {
		t.Fatalf("expected NEXT marker stripped, got %q", msg.Text)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)

	var status StatusResponse
	if err := json.Unmarshal(statusRec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Status != "paused" {
		t.Fatalf("expected paused status, got %q", status.Status)
	}
	if status.WaitingForMemberID != "bob" {
		t.Fatalf("expected waiting on bob, got %q", status.WaitingForMemberID)
	}

	historyReq := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	historyRec := httptest.NewRecorder()
	router.ServeHTTP(historyRec, historyReq)

	var history HistoryResponse
	if err := json.Unmarshal(historyRec.Body.Bytes(), &history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if history.Total != 1 {
		t.Fatalf("expected 1 history message, got %d", history.Total)
	}
}

func TestSendMessageRejectsMalformedTeamTask(t *testing.T) {
	router := newTestRouter(t)

	body := strings.NewReader(`{"content":"TEAM_TASK do the thing","sender_id":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 (not processed, not an error), got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if processed, _ := resp["processed"].(bool); processed {
		t.Fatal("expected processed=false for a malformed TEAM_TASK message")
	}
}

func TestStopThenSendMessageIsRejected(t *testing.T) {
	router := newTestRouter(t)

	stopReq := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	stopRec := httptest.NewRecorder()
	router.ServeHTTP(stopRec, stopReq)
	if stopRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from stop, got %d", stopRec.Code)
	}

	body := strings.NewReader(`{"content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after stop, got %d: %s", rec.Code, rec.Body.String())
	}
}
