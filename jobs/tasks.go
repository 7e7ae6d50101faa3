package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVATDeclarationGenerate compiles and stores a VAT declaration.
	TaskVATDeclarationGenerate = "vat:declaration:generate"
)

// VATDeclarationPayload selects the company and period to compile.
type VATDeclarationPayload struct {
	CompanyID int64  `json:"company_id"`
	Period    string `json:"period"`
	Schema    string `json:"schema,omitempty"`
	Purpose   int    `json:"purpose,omitempty"`
}

// NewVATDeclarationTask constructs an Asynq task. Tasks for the same company,
// period and schema are unique while queued.
func NewVATDeclarationTask(payload VATDeclarationPayload) (*asynq.Task, error) {
	if payload.CompanyID <= 0 || payload.Period == "" {
		return nil, errors.New("jobs: vat declaration payload requires company_id and period")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVATDeclarationGenerate, data,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(10*time.Minute),
	), nil
}

// ParseVATDeclarationPayload decodes a task payload.
func ParseVATDeclarationPayload(task *asynq.Task) (VATDeclarationPayload, error) {
	var payload VATDeclarationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return VATDeclarationPayload{}, err
	}
	return payload, nil
}
