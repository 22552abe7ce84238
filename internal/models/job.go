package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job record.
type Status string

// Job lifecycle states. The only legal path is
// pending -> processing -> completed|failed.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrInvalidTransition = errors.New("models: invalid status transition")
	ErrInvalidJob        = errors.New("models: invalid job record")
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// IsKnown reports whether s is one of the four lifecycle states.
func (s Status) IsKnown() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Job is an image-processing job as persisted in the shared store.
// OutputPath is only set once completed and Error only once failed.
type Job struct {
	ID         string
	Status     Status
	InputPath  string
	OutputPath string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Start claims a pending job for processing.
func (j *Job) Start() error {
	return j.transition(StatusProcessing)
}

// Complete records a successful transformation.
func (j *Job) Complete(outputPath string) error {
	if outputPath == "" {
		return fmt.Errorf("%w: completed job needs an output path", ErrInvalidJob)
	}
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.OutputPath = outputPath
	return nil
}

// Fail records a failed transformation with a short description.
func (j *Job) Fail(reason string) error {
	if reason == "" {
		reason = "processing failed"
	}
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.Error = reason
	return nil
}

func (j *Job) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, to, j.ID)
	}
	j.Status = to
	return nil
}

// Validate checks the record-level invariants: a known status, an id and
// input path, and exactly one of OutputPath/Error in terminal states.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	if !j.Status.IsKnown() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidJob, j.Status)
	}
	if j.InputPath == "" {
		return fmt.Errorf("%w: missing input_path", ErrInvalidJob)
	}
	switch j.Status {
	case StatusCompleted:
		if j.OutputPath == "" || j.Error != "" {
			return fmt.Errorf("%w: completed job must carry only output_path", ErrInvalidJob)
		}
	case StatusFailed:
		if j.Error == "" || j.OutputPath != "" {
			return fmt.Errorf("%w: failed job must carry only error", ErrInvalidJob)
		}
	default:
		if j.OutputPath != "" || j.Error != "" {
			return fmt.Errorf("%w: %s job cannot carry a result", ErrInvalidJob, j.Status)
		}
	}
	return nil
}

// TimeLayout is the timestamp format written to the store (always UTC).
const TimeLayout = time.RFC3339Nano

// record is the flat, text-valued wire form of a Job.
type record struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// MarshalJSON encodes the job as a flat mapping of string fields, omitting
// unset optional fields.
func (j Job) MarshalJSON() ([]byte, error) {
	r := record{
		ID:         j.ID,
		Status:     string(j.Status),
		InputPath:  j.InputPath,
		OutputPath: j.OutputPath,
		Error:      j.Error,
		UpdatedAt:  formatTime(j.UpdatedAt),
	}
	if !j.CreatedAt.IsZero() {
		r.CreatedAt = formatTime(j.CreatedAt)
	}
	return json.Marshal(r)
}

// UnmarshalJSON decodes the flat wire form. Timestamps may carry fractional
// seconds or not; missing timestamps decode to the zero time.
func (j *Job) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updated_at: %w", err)
	}
	*j = Job{
		ID:         r.ID,
		Status:     Status(r.Status),
		InputPath:  r.InputPath,
		OutputPath: r.OutputPath,
		Error:      r.Error,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Transition describes one persisted status change, as reported to the
// audit trail.
type Transition struct {
	JobID    string
	From     Status
	To       Status
	WorkerID string
	Detail   string
	At       time.Time
}
