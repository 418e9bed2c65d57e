package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/wareboxes/wareboxes/internal/jobs"
	"github.com/wareboxes/wareboxes/internal/rbac"
)

// Enqueuer submits tasks to the queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DevAdminEnqueuer is a self role hook that defers the development admin
// grant to the worker instead of running it inside the request.
type DevAdminEnqueuer struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewDevAdminEnqueuer constructs the asynchronous hook.
func NewDevAdminEnqueuer(queue Enqueuer, logger *slog.Logger) *DevAdminEnqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevAdminEnqueuer{queue: queue, logger: logger}
}

// AfterSelfRole enqueues TaskDevAdminGrant for the new self role.
func (e *DevAdminEnqueuer) AfterSelfRole(ctx context.Context, userID int64, email string, roleID int64) error {
	task, err := NewDevAdminTask(DevAdminPayload{UserID: userID, Email: email, RoleID: roleID})
	if err != nil {
		return err
	}
	info, err := e.queue.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("jobs: enqueue dev admin: %w", err)
	}
	e.logger.Info("dev admin grant enqueued", slog.Int64("user_id", userID), slog.String("task_id", info.ID))
	return nil
}

var _ rbac.SelfRoleHook = (*DevAdminEnqueuer)(nil)

// DevAdminJob runs the development admin grant on the worker.
type DevAdminJob struct {
	Hook    rbac.SelfRoleHook
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDevAdminJob constructs the job handler around the synchronous hook.
func NewDevAdminJob(hook rbac.SelfRoleHook, logger *slog.Logger, metrics *jobmetrics.Metrics) *DevAdminJob {
	return &DevAdminJob{Hook: hook, Logger: logger, Metrics: metrics}
}

// Handle decodes the payload and applies the grant. Malformed payloads and
// grants refused for a non-self role are not retried.
func (j *DevAdminJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Hook == nil {
		return errors.New("dev admin: handler not configured")
	}
	tracker := j.Metrics.Track(TaskDevAdminGrant)
	defer func() {
		err = tracker.End(err)
	}()

	var payload DevAdminPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("dev admin: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger := j.logger().With(slog.Int64("user_id", payload.UserID), slog.Int64("role_id", payload.RoleID))
	if err := j.Hook.AfterSelfRole(ctx, payload.UserID, payload.Email, payload.RoleID); err != nil {
		logger.Error("dev admin grant failed", slog.Any("error", err))
		if errors.Is(err, rbac.ErrSelfRole) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logger.Info("dev admin grant applied")
	return nil
}

func (j *DevAdminJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
