package domain

type SessionType string

const (
	SessionTypeUnspecified         SessionType = "SESSION_TYPE_UNSPECIFIED"
	SessionTypeInteractiveTraining SessionType = "INTERACTIVE_TRAINING"
	SessionTypeInference           SessionType = "INFERENCE"
	SessionTypeEvaluation          SessionType = "EVALUATION"
)

type SessionState string

const (
	SessionStateActive  SessionState = "ACTIVE"
	SessionStateStopped SessionState = "STOPPED"
)

// Session is a recording/training boundary owning episodes,
// assignments, models and evaluations.
type Session struct {
	ProjectID   string      `json:"project_id"`
	BrainID     string      `json:"brain_id"`
	SessionID   string      `json:"session_id"`
	SessionType SessionType `json:"session_type"`
	// StartingSnapshotIDs hold the snapshots the session resumed from;
	// empty for a fresh INTERACTIVE_TRAINING session.
	StartingSnapshotIDs []string     `json:"starting_snapshot_ids,omitempty"`
	UserAgent           string       `json:"user_agent,omitempty"`
	State               SessionState `json:"state,omitempty"`
	CreatedMicros       int64        `json:"created_micros"`
}

// Stopped reports whether the session reached its terminal state.
func (s *Session) Stopped() bool {
	return s != nil && s.State == SessionStateStopped
}
