package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "task timeout too short",
			config: Config{
				TaskTimeout:     500 * time.Millisecond,
				ShutdownTimeout: 30 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "shutdown timeout too short",
			config: Config{
				TaskTimeout:     5 * time.Minute,
				ShutdownTimeout: 0,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "permanent error",
			err:  NewPermanentError(context.Canceled),
			want: true,
		},
		{
			name: "regular error",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

// countingTask counts its runs and returns err from each.
type countingTask struct {
	name     string
	interval time.Duration
	err      error
	runs     atomic.Int32
}

func (c *countingTask) Name() string            { return c.name }
func (c *countingTask) Interval() time.Duration { return c.interval }
func (c *countingTask) Run(ctx context.Context) error {
	c.runs.Add(1)
	return c.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker_RunsTasksRepeatedly(t *testing.T) {
	w, err := New(DefaultConfig(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	task := &countingTask{name: "tick", interval: 10 * time.Millisecond}
	if err := w.Register(task); err != nil {
		t.Fatal(err)
	}

	w.Start(context.Background())
	waitFor(t, func() bool { return task.runs.Load() >= 3 })
	w.Stop()

	after := task.runs.Load()
	time.Sleep(30 * time.Millisecond)
	if got := task.runs.Load(); got != after {
		t.Errorf("task ran after Stop: %d -> %d", after, got)
	}
}

func TestWorker_FailingTaskKeepsRunning(t *testing.T) {
	w, _ := New(DefaultConfig(), discardLogger())
	task := &countingTask{name: "flaky", interval: 10 * time.Millisecond, err: errors.New("store down")}
	_ = w.Register(task)

	w.Start(context.Background())
	waitFor(t, func() bool { return task.runs.Load() >= 2 })
	w.Stop()
}

func TestWorker_PermanentErrorStopsTask(t *testing.T) {
	w, _ := New(DefaultConfig(), discardLogger())
	task := &countingTask{name: "broken", interval: 5 * time.Millisecond, err: NewPermanentError(errors.New("misconfigured"))}
	_ = w.Register(task)

	w.Start(context.Background())
	waitFor(t, func() bool { return task.runs.Load() >= 1 })
	time.Sleep(40 * time.Millisecond)
	w.Stop()

	if got := task.runs.Load(); got != 1 {
		t.Errorf("permanent failure should stop scheduling, ran %d times", got)
	}
}

func TestWorker_RegisterRejectsNonPositiveInterval(t *testing.T) {
	w, _ := New(DefaultConfig(), discardLogger())
	if err := w.Register(&countingTask{name: "never"}); err == nil {
		t.Error("expected error for zero interval")
	}
}
