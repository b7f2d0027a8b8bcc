package domain

// Assignment is a hyperparameter-keyed training job within a session.
// The assignment id is the canonical serialization of its
// hyperparameter set, so identical hyperparameters collapse onto one
// assignment.
type Assignment struct {
	ProjectID     string `json:"project_id"`
	BrainID       string `json:"brain_id"`
	SessionID     string `json:"session_id"`
	AssignmentID  string `json:"assignment_id"`
	CreatedMicros int64  `json:"created_micros"`
}
