package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/zentrohq/zentro/internal/agent"
	"github.com/zentrohq/zentro/internal/auth"
	"github.com/zentrohq/zentro/internal/config"
	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/store"
)

// textProvider streams a fixed reply, one word per chunk.
type textProvider struct {
	reply string
}

func (p *textProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	words := strings.SplitAfter(p.reply, " ")
	ch := make(chan *agent.CompletionChunk, len(words)+1)
	for _, w := range words {
		ch <- &agent.CompletionChunk{Text: w}
	}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *textProvider) Name() string        { return "stub" }
func (p *textProvider) SupportsTools() bool { return true }

// memCheckpoints is an always-ready in-memory checkpoint store.
type memCheckpoints struct {
	snapshots map[string][]byte
}

func (m *memCheckpoints) WaitReady(ctx context.Context) error { return nil }

func (m *memCheckpoints) Get(ctx context.Context, threadID string, out any) (bool, error) {
	raw, ok := m.snapshots[threadID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *memCheckpoints) Put(ctx context.Context, threadID string, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if m.snapshots == nil {
		m.snapshots = map[string][]byte{}
	}
	m.snapshots[threadID] = raw
	return nil
}

type testEnv struct {
	server *Server
	mock   sqlmock.Sqlmock
	issuer *auth.Issuer
}

func newTestServer(t *testing.T, reply string) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	st := store.NewWithDB(db, logger, nil)

	runtime, err := agent.NewRuntime(agent.Config{
		Provider:    &textProvider{reply: reply},
		Checkpoints: &memCheckpoints{},
		Logger:      logger,
		Model:       "stub-model",
	})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	server, err := NewServer(Deps{
		Config: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Logger:  logger,
		Metrics: observability.NewMetrics(),
		Store:   st,
		Runtime: runtime,
		Issuer:  issuer,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return &testEnv{server: server, mock: mock, issuer: issuer}
}

func (e *testEnv) request(t *testing.T, method, path, body string, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID > 0 {
		token, err := e.issuer.Issue(userID)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Routes().ServeHTTP(rec, req)
	return rec
}

func expectExchangePersisted(mock sqlmock.Sqlmock, userID int64) {
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM chats WHERE thread_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO chats`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "thread_id", "title", "created_at"}).
			AddRow(1, userID, "x", "t", now))
	mock.ExpectQuery(`INSERT INTO chat_messages`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "chat_id", "role", "content", "created_at"}).
			AddRow(1, 1, "user", "p", now))
	mock.ExpectQuery(`INSERT INTO chat_messages`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "chat_id", "role", "content", "created_at"}).
			AddRow(2, 1, "assistant", "m", now))
	mock.ExpectCommit()
}

func TestAgentRun_NewThread(t *testing.T) {
	env := newTestServer(t, "Hi there")
	expectExchangePersisted(env.mock, 7)

	rec := env.request(t, http.MethodPost, "/api/agent/run", `{"prompt": "Hello"}`, 7)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		ThreadID string `json:"thread_id"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.ThreadID, "7:") {
		t.Errorf("thread_id = %q, want prefix 7:", resp.ThreadID)
	}
	if resp.Message != "Hi there" {
		t.Errorf("message = %q", resp.Message)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAgentRun_ForeignThreadNotFound(t *testing.T) {
	env := newTestServer(t, "unused")

	rec := env.request(t, http.MethodPost, "/api/agent/run",
		`{"prompt": "Hello", "thread_id": "8:deadbeef"}`, 7)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAgentRun_Unauthenticated(t *testing.T) {
	env := newTestServer(t, "unused")

	rec := env.request(t, http.MethodPost, "/api/agent/run", `{"prompt": "Hello"}`, 0)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAgentStream_WireProtocol(t *testing.T) {
	env := newTestServer(t, "Hello World")
	expectExchangePersisted(env.mock, 7)

	rec := env.request(t, http.MethodPost, "/api/agent/run/stream",
		`{"prompt": "Say hello"}`, 7)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: metadata\ndata: {\"thread_id\":\"7:") {
		t.Errorf("missing metadata frame:\n%s", body)
	}
	for _, frame := range []string{
		`data: {"token":"Hello "}`,
		`data: {"token":"World"}`,
		"event: done\ndata: [DONE]\n\n",
	} {
		if !strings.Contains(body, frame) {
			t.Errorf("missing frame %q in:\n%s", frame, body)
		}
	}
}

func TestAuthToken_DevLogin(t *testing.T) {
	env := newTestServer(t, "unused")

	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT (.+) FROM users WHERE email = \$1`).
		WithArgs("dana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "created_at"}).
			AddRow(9, "dana@example.com", "Dana", time.Now()))
	env.mock.ExpectCommit()

	rec := env.request(t, http.MethodPost, "/api/auth/token",
		`{"email": "dana@example.com"}`, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.UserID != 9 {
		t.Errorf("user_id = %d, want 9", resp.UserID)
	}
	if userID, err := env.issuer.Verify(resp.Token); err != nil || userID != 9 {
		t.Errorf("token verifies to %d (%v), want 9", userID, err)
	}
}

func TestGetTask_NotFoundStatus(t *testing.T) {
	env := newTestServer(t, "unused")

	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	env.mock.ExpectRollback()

	rec := env.request(t, http.MethodGet, "/api/tasks/5", "", 7)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestNewServer_AppliesConfiguredTimeouts(t *testing.T) {
	env := newTestServer(t, "unused")

	if got := env.server.httpServer.ReadTimeout; got != 30*time.Second {
		t.Errorf("read timeout = %v, want 30s", got)
	}
	if got := env.server.httpServer.WriteTimeout; got != 5*time.Minute {
		t.Errorf("write timeout = %v, want 5m", got)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t, "unused")
	env.mock.ExpectPing()

	rec := env.request(t, http.MethodGet, "/healthz", "", 0)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
