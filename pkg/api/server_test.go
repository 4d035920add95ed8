package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/api"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/chatsession"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider/localprovider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/sandbox"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/terminal"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/threadlock"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	client := testdb.NewTestClient(t)

	prov, err := localprovider.New(t.TempDir())
	require.NoError(t, err)
	registry := provider.NewRegistry(prov)

	termStore := terminal.NewStore(client.Ent())
	leaseStore := lease.NewStore(client.Ent())
	leaseManager := lease.NewManager(leaseStore)
	chatStore := chatsession.NewStore(client.Ent())
	sandboxes := sandbox.NewManager(termStore, leaseStore, leaseManager, chatStore, registry, localprovider.Name)

	events := providerevent.NewStore(client.Ent())
	ingester := providerevent.NewIngester(events, leaseStore, leaseManager, registry, nil)

	runs := runstream.NewStore(client.Ent())
	threads := threadlock.NewRegistry(runs, sandboxes)

	return api.NewServer(sandboxes, ingester, events, runs, threads, client)
}

func TestIngestWebhookHandler_MissingInstanceIDReturns400(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"type": "sandbox.started"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/e2b", body)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestWebhookHandler_RecordsUnmatchedEvent(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"instance_id": "inst-123", "type": "sandbox.started"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/e2b", body)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "inst-123", resp["instance_id"])
	assert.Equal(t, false, resp["matched"])
}

func TestListWebhookEventsHandler_ClampsLimit(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/events?limit=5000", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListWebhookEventsHandler_RejectsNonIntegerLimit(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/events?limit=nope", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRunHandler_NoCurrentRunAndNoRunIDReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/thread-1/stream", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRunHandler_ReplaysHistoryForFinishedRun(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := runstream.NewStore(client.Ent())
	stream := runstream.NewStream(runs, "thread-2", "run-1")
	ctx := context.Background()
	_, err := stream.Emit(ctx, runstream.EventText, map[string]any{"delta": "hi"}, "")
	require.NoError(t, err)
	_, err = stream.Emit(ctx, runstream.EventDone, nil, "")
	require.NoError(t, err)
	stream.Done()

	srv := api.NewServer(nil, nil, nil, runs, threadlock.NewRegistry(runs, nil), client)

	req := httptest.NewRequest(http.MethodGet, "/runs/thread-2/stream?run_id=run-1", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: text")
	assert.Contains(t, rec.Body.String(), "\"delta\":\"hi\"")
}

func TestPauseSandboxHandler_NoTerminalsReturns500(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sandboxes/thread-3/pause", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResumeSandboxHandler_NoLeaseReturns500(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sandboxes/thread-3/resume", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeleteThreadHandler_NoPriorActivityIsNoop(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/threads/thread-4", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_ReturnsHealthy(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
