package domain

import "time"

// SequenceStatus enumerates the lifecycle states of a sequence.
type SequenceStatus string

const (
	SequenceActive   SequenceStatus = "active"
	SequencePaused   SequenceStatus = "paused"
	SequenceArchived SequenceStatus = "archived"
)

// Sequence is a multi-step drip campaign. An event matching TriggerEvent
// (and TriggerConditions) enrolls a recipient; any of the ExitEvents firing
// for that recipient cancels their remaining sends.
type Sequence struct {
	ID                string         `json:"id" db:"id"`
	Name              string         `json:"name" db:"name"`
	TriggerEvent      string         `json:"trigger_event" db:"trigger_event"`
	TriggerConditions map[string]any `json:"trigger_conditions" db:"trigger_conditions"`
	ExitEvents        []string       `json:"exit_events" db:"exit_events"`
	Status            SequenceStatus `json:"status" db:"status"`
	TotalEnrolled     int            `json:"total_enrolled" db:"total_enrolled"`
	TotalCompleted    int            `json:"total_completed" db:"total_completed"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// DelayFrom selects the basis a step's delay is computed from.
type DelayFrom string

const (
	// DelayFromEnrollment computes the step's send time relative to when the
	// recipient entered the sequence.
	DelayFromEnrollment DelayFrom = "enrollment"
	// DelayFromPreviousStep chains the step's send time off the scheduled
	// time of the step before it. Chaining off scheduled (not actual send)
	// time keeps a sequence's total duration deterministic even when a step
	// dispatches late.
	DelayFromPreviousStep DelayFrom = "previous_step"
)

// StepStatus enumerates the states of an individual sequence step.
type StepStatus string

const (
	StepActive StepStatus = "active"
	StepPaused StepStatus = "paused"
)

// SequenceStep is one send within a sequence. Steps are totally ordered by
// StepOrder; the engine walks them in ascending order and tolerates gaps.
type SequenceStep struct {
	ID              string         `json:"id" db:"id"`
	SequenceID      string         `json:"sequence_id" db:"sequence_id"`
	StepOrder       int            `json:"step_order" db:"step_order"`
	Channel         Channel        `json:"channel" db:"channel"`
	TemplateID      string         `json:"template_id" db:"template_id"`
	DelayMinutes    int            `json:"delay_minutes" db:"delay_minutes"`
	DelayFrom       DelayFrom      `json:"delay_from" db:"delay_from"`
	SubjectOverride string         `json:"subject_override" db:"subject_override"`
	Conditions      map[string]any `json:"conditions" db:"conditions"`
	Status          StepStatus     `json:"status" db:"status"`
	TotalSent       int            `json:"total_sent" db:"total_sent"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// EnrollmentStatus enumerates the states of a recipient's progress through
// a sequence.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
)

// Enrollment tracks one recipient's progress through one sequence. It is
// keyed by (SequenceID, Email): re-triggering the sequence for the same
// address while an enrollment exists does not re-enroll.
type Enrollment struct {
	ID               string            `json:"id" db:"id"`
	SequenceID       string            `json:"sequence_id" db:"sequence_id"`
	UserID           string            `json:"user_id" db:"user_id"`
	Email            string            `json:"email" db:"email"`
	Phone            string            `json:"phone" db:"phone"`
	Metadata         map[string]string `json:"metadata" db:"metadata"`
	CurrentStepOrder int               `json:"current_step_order" db:"current_step_order"`
	Status           EnrollmentStatus  `json:"status" db:"status"`
	// NextStepAt is the scheduled time of the next due step. It doubles as
	// the delay basis for steps with DelayFromPreviousStep.
	NextStepAt  *time.Time `json:"next_step_at" db:"next_step_at"`
	EnrolledAt  time.Time  `json:"enrolled_at" db:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	ExitedAt    *time.Time `json:"exited_at" db:"exited_at"`
	ExitReason  string     `json:"exit_reason" db:"exit_reason"`
}

// IsTerminal returns true if the enrollment can never schedule another send.
func (e *Enrollment) IsTerminal() bool {
	return e.Status == EnrollmentCompleted || e.Status == EnrollmentExited
}
