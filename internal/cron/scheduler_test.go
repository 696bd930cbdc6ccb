package cron

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zentrohq/zentro/internal/observability"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 9 * * *", false},
		{"*/5 * * * * *", false}, // with seconds field
		{"@daily", false},
		{"not a schedule", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_RunsAndStops(t *testing.T) {
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	s := NewScheduler(logger)

	var runs atomic.Int32
	err := s.Add("tick", "* * * * * *", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Stop()
	after := runs.Load()
	time.Sleep(1200 * time.Millisecond)
	if runs.Load() > after {
		t.Error("job ran after Stop")
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	s := NewScheduler(logger)
	s.Stop() // must not panic or block
}
