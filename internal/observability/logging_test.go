package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithThreadID(ctx, "42:abc")
	ctx = WithUserID(ctx, 42)

	logger.Info(ctx, "processing run", "mode", "stream")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if record["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", record["request_id"])
	}
	if record["thread_id"] != "42:abc" {
		t.Errorf("thread_id = %v, want 42:abc", record["thread_id"])
	}
	if record["user_id"] != float64(42) {
		t.Errorf("user_id = %v, want 42", record["user_id"])
	}
	if record["mode"] != "stream" {
		t.Errorf("mode = %v, want stream", record["mode"])
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	secret := "sk-ant-" + strings.Repeat("a", 100)
	logger.Info(context.Background(), "provider init", "detail", "api_key: "+secret)

	out := buf.String()
	if strings.Contains(out, secret) {
		t.Error("secret leaked into log output")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("expected [REDACTED] marker in output")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "also hidden")
	if buf.Len() != 0 {
		t.Fatalf("unexpected output below warn level: %s", buf.String())
	}

	logger.Warn(context.Background(), "visible")
	if buf.Len() == 0 {
		t.Error("warn record was filtered out")
	}
}

func TestNewMetrics_Isolated(t *testing.T) {
	// Two instances must not fight over collector registration.
	a := NewMetrics()
	b := NewMetrics()

	a.AgentRuns.WithLabelValues("invoke", "ok").Inc()
	b.AgentRuns.WithLabelValues("invoke", "ok").Add(3)

	families, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "zentro_agent_runs_total" {
			found = true
			if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("counter = %v, want 1", v)
			}
		}
	}
	if !found {
		t.Error("zentro_agent_runs_total not registered")
	}
}
