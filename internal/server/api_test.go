package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/server"
	"github.com/raphaelgruber/medresearch/internal/service"
	"github.com/raphaelgruber/medresearch/internal/store/memory"
)

type agentFunc func(ctx context.Context, req service.AgentRequest) (string, error)

func (f agentFunc) Invoke(ctx context.Context, req service.AgentRequest) (string, error) {
	return f(ctx, req)
}

type titleFunc func(ctx context.Context, msg string) (string, error)

func (f titleFunc) GenerateTitle(ctx context.Context, msg string) (string, error) {
	return f(ctx, msg)
}

type testAPI struct {
	srv   *httptest.Server
	store *memory.Store
}

func newTestAPI(t *testing.T, agent service.Agent) *testAPI {
	t.Helper()
	st := memory.New()
	collector := metrics.NewCollector()
	logger := testLogger()
	api := server.NewAPI(server.APIDeps{
		Conversation: service.NewConversationService(st, agent,
			titleFunc(func(context.Context, string) (string, error) { return "Metformin Overview", nil }),
			service.NewTurnTracker(10), collector, logger, service.ConversationOptions{AgentTimeout: time.Second}),
		Dialogs:   service.NewDialogService(st),
		Users:     service.NewUserService(st),
		Collector: collector,
		Logger:    logger,
	})
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: st}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(server.UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func replyAgent(reply string) agentFunc {
	return func(context.Context, service.AgentRequest) (string, error) { return reply, nil }
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, replyAgent("ok"))

	resp := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(server.RequestIDHeader))

	resp = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RequiresUser(t *testing.T) {
	api := newTestAPI(t, replyAgent("ok"))
	resp := api.do(t, http.MethodGet, "/api/dialogs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_TurnLifecycle(t *testing.T) {
	api := newTestAPI(t, replyAgent("Metformin is a biguanide."))
	const ada = "ada@example.com"

	resp := api.do(t, http.MethodPost, "/api/dialogs/turns", ada, server.TurnRequest{Message: "What is metformin?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[server.TurnResponse](t, resp)
	assert.True(t, created.Succeeded)
	assert.Equal(t, "Metformin Overview", created.Dialog.Title)
	require.Len(t, created.Dialog.ChatHistory, 2)

	id := strconv.FormatInt(created.Dialog.ID, 10)

	resp = api.do(t, http.MethodPost, "/api/dialogs/"+id+"/turns", ada, server.TurnRequest{Message: "And side effects?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[server.TurnResponse](t, resp).Dialog.ChatHistory, 4)

	resp = api.do(t, http.MethodGet, "/api/dialogs", ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]server.DialogSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].Messages)

	resp = api.do(t, http.MethodGet, "/api/turns/"+created.TurnID, ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	turn := decode[server.TurnStatus](t, resp)
	assert.Equal(t, string(service.TurnPersisted), turn.State)
	assert.Equal(t, string(service.TurnSucceeded), turn.Outcome)

	resp = api.do(t, http.MethodGet, "/api/turns/"+created.TurnID, "eve@example.com", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/dialogs/"+id, "eve@example.com", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/dialogs/"+id, ada, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/dialogs/"+id, ada, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/stats", ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[metrics.Snapshot](t, resp)
	assert.Equal(t, int64(2), stats.TurnsSucceeded)
}

func TestAPI_TurnValidation(t *testing.T) {
	api := newTestAPI(t, replyAgent("ok"))
	const ada = "ada@example.com"

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"empty message", "/api/dialogs/turns", server.TurnRequest{Message: " "}, http.StatusBadRequest},
		{"too long", "/api/dialogs/turns", server.TurnRequest{Message: strings.Repeat("a", service.MaxMessageChars+1)}, http.StatusBadRequest},
		{"unknown field", "/api/dialogs/turns", map[string]any{"msg": "hi"}, http.StatusBadRequest},
		{"unknown dialog", "/api/dialogs/999/turns", server.TurnRequest{Message: "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, http.MethodPost, tt.path, ada, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAPI_AgentFailureIsStillPersisted(t *testing.T) {
	api := newTestAPI(t, agentFunc(func(context.Context, service.AgentRequest) (string, error) {
		return "", errors.New("provider down")
	}))

	resp := api.do(t, http.MethodPost, "/api/dialogs/turns", "ada@example.com", server.TurnRequest{Message: "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[server.TurnResponse](t, resp)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.Reply, "#"+strconv.FormatInt(res.Dialog.ID, 10))
	assert.Equal(t, models.DefaultDialogTitle, res.Dialog.Title)
}

func TestAPI_FindingsAndRelevance(t *testing.T) {
	api := newTestAPI(t, agentFunc(func(ctx context.Context, req service.AgentRequest) (string, error) {
		_, err := req.Findings.Create(ctx, models.NewFinding{DialogID: req.DialogID, Title: "Study B", RelevanceReason: "sample size too small"})
		return "saved", err
	}))
	const ada = "ada@example.com"

	resp := api.do(t, http.MethodPost, "/api/dialogs/turns", ada, server.TurnRequest{Message: "find"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dialogID := strconv.FormatInt(decode[server.TurnResponse](t, resp).Dialog.ID, 10)

	resp = api.do(t, http.MethodGet, "/api/dialogs/"+dialogID+"/findings", ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	findings := decode[[]models.Finding](t, resp)
	require.Len(t, findings, 1)
	fid := strconv.FormatInt(findings[0].ID, 10)

	resp = api.do(t, http.MethodPost, "/api/findings/"+fid+"/relevance", ada, map[string]any{"relevant": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.Finding](t, resp).NonRelevanceMark)

	resp = api.do(t, http.MethodPost, "/api/findings/"+fid+"/relevance", ada, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/findings/"+fid+"/relevance", "eve@example.com", map[string]any{"relevant": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/findings/"+fid, ada, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_Profile(t *testing.T) {
	api := newTestAPI(t, replyAgent("ok"))
	const ada = "ada@example.com"

	resp := api.do(t, http.MethodGet, "/api/me", ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ada, decode[models.User](t, resp).Profile.Email)

	resp = api.do(t, http.MethodPut, "/api/me", ada, map[string]any{"name": "Ada", "trusted_sites": []string{"NEJM.org"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	u := decode[models.User](t, resp)
	assert.Equal(t, "Ada", u.Profile.Name)
	assert.Equal(t, []string{"nejm.org"}, u.Profile.TrustedSites)
}

func TestAPI_Stream(t *testing.T) {
	api := newTestAPI(t, agentFunc(func(ctx context.Context, req service.AgentRequest) (string, error) {
		req.Status("Searching medical news...")
		return "streamed answer", nil
	}))

	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/api/dialogs/0/stream"
	header := http.Header{}
	header.Set(server.UserHeader, "ada@example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.TurnRequest{Message: "What is metformin?"}))

	var events []server.StreamEvent
	for {
		var ev server.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.Type == server.EventReply {
			break
		}
	}
	require.Len(t, events, 3)
	assert.Equal(t, service.StatusWorking, events[0].Status)
	assert.Equal(t, "Searching medical news...", events[1].Status)
	reply := events[2]
	assert.Equal(t, "streamed answer", reply.Reply)
	assert.True(t, reply.Succeeded)
	assert.NotZero(t, reply.DialogID)

	require.NoError(t, conn.WriteJSON(server.TurnRequest{Message: " "}))
	var ev server.StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, server.EventError, ev.Type)
	assert.Equal(t, service.ErrEmptyMessage.Error(), ev.Error)

	d, err := api.store.Dialogs().GetByID(context.Background(), reply.DialogID)
	require.NoError(t, err)
	assert.Len(t, d.ChatHistory, 2)
}

func TestAPI_StreamUnknownDialog(t *testing.T) {
	api := newTestAPI(t, replyAgent("ok"))
	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/api/dialogs/42/stream"
	header := http.Header{}
	header.Set(server.UserHeader, "ada@example.com")

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
