package audit

import (
	"context"

	"github.com/nerrad567/fleetlink-core/internal/tasks"
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes entries in the background. Write failures and dropped
// entries are logged only; callers never wait on the database.
type Recorder struct {
	repo   Repository
	tasks  tasks.Scheduler
	logger Logger
}

// NewRecorder creates a recorder. A nil repo makes Record a no-op.
func NewRecorder(repo Repository, sched tasks.Scheduler) *Recorder {
	return &Recorder{repo: repo, tasks: sched, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Record schedules e for writing.
func (r *Recorder) Record(e Entry) {
	if r == nil || r.repo == nil {
		return
	}
	accepted := r.tasks.Submit("audit", func(ctx context.Context) {
		if err := r.repo.Create(ctx, &e); err != nil {
			r.logger.Error("audit write failed",
				"action", e.Action, "entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
		}
	})
	if !accepted {
		r.logger.Warn("audit entry dropped", "action", e.Action, "entity_id", e.EntityID)
	}
}
