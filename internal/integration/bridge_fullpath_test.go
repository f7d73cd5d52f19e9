//go:build !windows

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/clibridge/clibridge/internal/adapter/inbound/http"
	"github.com/clibridge/clibridge/internal/adapter/outbound/agentcli"
	"github.com/clibridge/clibridge/internal/adapter/outbound/state"
	"github.com/clibridge/clibridge/internal/domain/auth"
	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/domain/session"
	"github.com/clibridge/clibridge/internal/service"
)

const testAPIKey = "integration-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClaude prints a claude-style result document. A fresh run reports
// session "sess-1"; a resumed run echoes the token it was given. Every
// argument list is appended to argsLog, one run per line.
const fakeClaude = `
log="$ARGS_LOG"
printf '%s\n' "$*" >> "$log"
token="sess-1"
while [ $# -gt 0 ]; do
  if [ "$1" = "--resume" ]; then token="$2"; fi
  if [ "$1" = "--" ]; then shift; prompt="$1"; break; fi
  shift
done
if [ "$prompt" = "explode" ]; then
  echo "login expired" >&2
  exit 3
fi
printf '{"type":"result","result":"echo: %s","session_id":"%s","total_cost_usd":0.01,"num_turns":1}\n' "$prompt" "$token"
`

type stack struct {
	server    *httptest.Server
	storePath string
	argsLog   string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	argsLog := filepath.Join(dir, "args.log")
	if err := os.WriteFile(filepath.Join(bin, "claude"), []byte("#!/bin/sh\n"+fakeClaude), 0o755); err != nil {
		t.Fatal(err)
	}

	logger := testLogger()
	storePath := filepath.Join(dir, "state", "sessions.json")
	store, err := state.Open(storePath, logger)
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	sessions := session.NewService(store, session.Config{MaxAge: time.Hour})

	runner := agentcli.NewRunner(
		agentcli.WithEnv(agentcli.Env{
			PathDirs: []string{bin, "/usr/bin", "/bin"},
			Home:     dir,
			PassEnv:  []string{},
			Set:      map[string]string{"ARGS_LOG": argsLog},
		}),
		agentcli.WithTimeout(10*time.Second),
		agentcli.WithLogger(logger),
	)
	backend, err := agentcli.Backend("claude")
	if err != nil {
		t.Fatal(err)
	}
	stats := service.NewStatsService()
	bridge, err := service.NewBridgeService(sessions, backend, runner, service.BridgeConfig{
		Defaults: invocation.Defaults{WorkingDirectory: dir},
	}, service.WithStats(stats), service.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewBridgeService() error = %v", err)
	}

	keys, err := auth.NewKeySet([]auth.Key{{Name: "test", Hash: auth.HashKey(testAPIKey)}})
	if err != nil {
		t.Fatal(err)
	}
	transport := httpadapter.NewHTTPTransport(bridge,
		httpadapter.WithAPIKeys(keys),
		httpadapter.WithStats(stats),
		httpadapter.WithRegistry(prometheus.NewRegistry()),
		httpadapter.WithLogger(logger),
	)
	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)

	return &stack{server: srv, storePath: storePath, argsLog: argsLog}
}

func (s *stack) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) runs(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(s.argsLog)
	if err != nil {
		t.Fatalf("read args log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestBridgeFullPath_ResumeAcrossTurns(t *testing.T) {
	s := newStack(t)

	var first invocation.Result
	if code := s.do(t, http.MethodPost, "/v1/messages", `{"prompt":"hello","user_id":"alice"}`, &first); code != http.StatusOK {
		t.Fatalf("first submit status = %d, want 200", code)
	}
	if !first.Success || first.Result != "echo: hello" || first.SessionToken != "sess-1" {
		t.Errorf("first result = %+v", first)
	}

	var second invocation.Result
	if code := s.do(t, http.MethodPost, "/v1/messages", `{"prompt":"again","user_id":"alice"}`, &second); code != http.StatusOK {
		t.Fatalf("second submit status = %d, want 200", code)
	}

	runs := s.runs(t)
	if len(runs) != 2 {
		t.Fatalf("agent runs = %d, want 2", len(runs))
	}
	if strings.Contains(runs[0], "--resume") {
		t.Errorf("first run resumed: %q", runs[0])
	}
	if !strings.Contains(runs[1], "--resume sess-1") {
		t.Errorf("second run = %q, want --resume sess-1", runs[1])
	}

	var meta session.Metadata
	if code := s.do(t, http.MethodGet, "/v1/sessions/alice", "", &meta); code != http.StatusOK {
		t.Fatalf("get session status = %d, want 200", code)
	}
	if !meta.Exists || meta.MessageCount != 2 || meta.Backend != "claude" {
		t.Errorf("metadata = %+v, want 2 messages on claude", meta)
	}

	// The token survives a restart.
	reopened, err := state.Open(s.storePath, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get(alice) after reopen error = %v", err)
	}
	if got.ContinuationToken != "sess-1" || got.MessageCount != 2 {
		t.Errorf("persisted session = %+v", got)
	}
}

func TestBridgeFullPath_ResetStartsFresh(t *testing.T) {
	s := newStack(t)

	s.do(t, http.MethodPost, "/v1/messages", `{"prompt":"one","user_id":"bob"}`, nil)

	var reset struct {
		UserID string `json:"user_id"`
		Reset  bool   `json:"reset"`
	}
	if code := s.do(t, http.MethodPost, "/v1/reset", `{"user_id":"bob"}`, &reset); code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", code)
	}
	if reset.UserID != "bob" || !reset.Reset {
		t.Errorf("reset response = %+v", reset)
	}

	s.do(t, http.MethodPost, "/v1/messages", `{"prompt":"two","user_id":"bob"}`, nil)
	runs := s.runs(t)
	if len(runs) != 2 || strings.Contains(runs[1], "--resume") {
		t.Errorf("run after reset = %q, want no --resume", runs[len(runs)-1])
	}
}

func TestBridgeFullPath_FailureKeepsSession(t *testing.T) {
	s := newStack(t)

	s.do(t, http.MethodPost, "/v1/messages", `{"prompt":"ok","user_id":"carol"}`, nil)

	var failed invocation.Result
	code := s.do(t, http.MethodPost, "/v1/messages", `{"prompt":"explode","user_id":"carol"}`, &failed)
	if code != http.StatusBadGateway {
		t.Errorf("failed submit status = %d, want 502", code)
	}
	if failed.Success || !strings.Contains(failed.Error, "exit code 3") || !strings.Contains(failed.Error, "re-authenticated") {
		t.Errorf("failed result = %+v", failed)
	}

	var meta session.Metadata
	s.do(t, http.MethodGet, "/v1/sessions/carol", "", &meta)
	if meta.MessageCount != 1 {
		t.Errorf("MessageCount after failure = %d, want 1", meta.MessageCount)
	}
}

func TestBridgeFullPath_AuthAndHealth(t *testing.T) {
	s := newStack(t)

	resp, err := http.Post(s.server.URL+"/v1/messages", "application/json", strings.NewReader(`{"prompt":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(s.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}
	var health struct {
		Status       string `json:"status"`
		SessionCount int    `json:"session_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status == "" {
		t.Error("health status is empty")
	}
}
