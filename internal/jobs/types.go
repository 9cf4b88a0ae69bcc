package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskResolveMember = "member:resolve"

	QueueResolve = "resolve"
	QueueDefault = "default"
)

type ResolveMemberPayload struct {
	Identifier string `json:"identifier"`
	RequestID  string `json:"request_id,omitempty"`
}

// NewResolveMemberTask builds a resolve task with the retry policy used by the API.
func NewResolveMemberTask(identifier, requestID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ResolveMemberPayload{Identifier: identifier, RequestID: requestID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskResolveMember, payload,
		asynq.Queue(QueueResolve),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	), nil
}
