package schemas

// -- Caller-Facing Contract --

// InteractRequest is one client round-trip: the current page state plus the
// goal, and optionally the task being continued. Tenant and user identities
// come from the transport layer (auth is external) rather than the body.
type InteractRequest struct {
	TenantID string `json:"-"`
	UserID   string `json:"-"`

	URL         string `json:"url" binding:"required"`
	Query       string `json:"query" binding:"required"`
	DOMSnapshot string `json:"dom_snapshot"`
	TaskID      string `json:"task_id,omitempty"`
}

// NextAction is the response to one round-trip: exactly one action string,
// plus the state the caller needs to continue the loop.
type NextAction struct {
	TaskID  string     `json:"task_id"`
	Thought string     `json:"thought"`
	Action  string     `json:"action"`
	Status  TaskStatus `json:"status"`

	Plan            *TaskPlan           `json:"plan,omitempty"`
	Verification    *VerificationRecord `json:"verification,omitempty"`
	Correction      *CorrectionRecord   `json:"correction,omitempty"`
	ExpectedOutcome *ExpectedOutcome    `json:"expected_outcome,omitempty"`

	Metrics StepMetrics `json:"metrics"`
}

// -- Knowledge Retrieval Contract --

// KnowledgeChunk is one ranked fragment of retrieved organization knowledge.
type KnowledgeChunk struct {
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// RetrievalResult is the output of the external knowledge-retrieval
// collaborator. The core only consumes it.
type RetrievalResult struct {
	Chunks          []KnowledgeChunk `json:"chunks"`
	HasOrgKnowledge bool             `json:"has_org_knowledge"`
	DebugInfo       string           `json:"debug_info,omitempty"`
}
