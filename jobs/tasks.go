package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDevAdminGrant grants the development admin permission to a new self role.
	TaskDevAdminGrant = "rbac:dev_admin"
)

// DevAdminPayload identifies the self role that was just bootstrapped.
type DevAdminPayload struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	RoleID int64  `json:"role_id"`
}

func (p DevAdminPayload) validate() error {
	if p.UserID <= 0 || p.RoleID <= 0 || strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("jobs: incomplete dev admin payload %+v", p)
	}
	return nil
}

// NewDevAdminTask constructs an Asynq task for the development admin grant.
func NewDevAdminTask(payload DevAdminPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDevAdminGrant, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
