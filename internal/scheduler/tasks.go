package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskRunDispatch = "runs.dispatch"

const TaskRunScheduledStart = "runs.scheduled_start"

type RunDispatchPayload struct {
	RunID          string `json:"runId"`
	OrganizationID string `json:"organizationId"`
}

type RunScheduledStartPayload struct {
	RunID          string `json:"runId"`
	OrganizationID string `json:"organizationId"`
}

func NewRunDispatchTask(payload RunDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRunDispatch, data), nil
}

func ParseRunDispatchPayload(task *asynq.Task) (RunDispatchPayload, error) {
	var payload RunDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RunDispatchPayload{}, err
	}
	return payload, nil
}

func NewRunScheduledStartTask(payload RunScheduledStartPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRunScheduledStart, data), nil
}

func ParseRunScheduledStartPayload(task *asynq.Task) (RunScheduledStartPayload, error) {
	var payload RunScheduledStartPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RunScheduledStartPayload{}, err
	}
	return payload, nil
}
