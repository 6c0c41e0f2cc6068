package schemas

import (
	"time"
)

// -- Verification & Correction Schemas --

// VerificationRecord is the audit trail entry for one verified step. Records
// are append-only and never mutated.
type VerificationRecord struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	StepIndex int    `json:"step_index"`

	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"` // 0..1

	ExpectedState string `json:"expected_state"`
	ActualState   string `json:"actual_state"`
	Comparison    string `json:"comparison"`
	Reason        string `json:"reason"`

	CreatedAt time.Time `json:"created_at"`
}

// CorrectionStrategy is the closed set of retry strategies the self-correction
// engine can tag a correction with.
type CorrectionStrategy string

const (
	StrategyRetrySame    CorrectionStrategy = "RETRY_SAME"
	StrategyAlternative  CorrectionStrategy = "ALTERNATIVE_ACTION"
	StrategyWaitAndRetry CorrectionStrategy = "WAIT_AND_RETRY"
	StrategySimplify     CorrectionStrategy = "SIMPLIFY_STEP"
)

// KnownStrategy reports whether s is one of the defined strategies.
func KnownStrategy(s CorrectionStrategy) bool {
	switch s {
	case StrategyRetrySame, StrategyAlternative, StrategyWaitAndRetry, StrategySimplify:
		return true
	}
	return false
}

// CorrectionRecord documents one correction attempt. StepIndex is the history
// index of the first failed attempt in the retry chain, so every retry of the
// same logical step lands on the same (task, stepIndex) pair. Attempt is
// 1-based and monotonically increasing per pair; the count of records for a
// pair is itself the authoritative attempt counter.
type CorrectionRecord struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	StepIndex int    `json:"step_index"`
	Attempt   int    `json:"attempt"`

	OriginalStep  string             `json:"original_step"`
	CorrectedStep string             `json:"corrected_step"`
	Action        string             `json:"action"`
	Strategy      CorrectionStrategy `json:"strategy"`
	Reason        string             `json:"reason"`

	CreatedAt time.Time `json:"created_at"`
}
