package domain

// Model records one exported policy. Immutable once recorded.
type Model struct {
	ProjectID                 string `json:"project_id"`
	BrainID                   string `json:"brain_id"`
	SessionID                 string `json:"session_id"`
	ModelID                   string `json:"model_id"`
	AssignmentID              string `json:"assignment_id,omitempty"`
	EpisodeID                 string `json:"episode_id,omitempty"`
	ChunkID                   int    `json:"chunk_id,omitempty"`
	TrainingExamplesCompleted int64  `json:"training_examples_completed"`
	MaxTrainingExamples       int64  `json:"max_training_examples"`
	MostRecentDemoTimeMicros  int64  `json:"most_recent_demo_time_micros,omitempty"`
	ModelPath                 string `json:"model_path,omitempty"`
	CompressedModelPath       string `json:"compressed_model_path,omitempty"`
	CreatedMicros             int64  `json:"created_micros"`
}

// OfflineEvaluation scores one model against one eval-set version.
// Lower scores are better. The element id is "<model_id>_<version>".
type OfflineEvaluation struct {
	ProjectID           string  `json:"project_id"`
	BrainID             string  `json:"brain_id"`
	SessionID           string  `json:"session_id"`
	OfflineEvaluationID string  `json:"offline_evaluation_id"`
	ModelID             string  `json:"model_id"`
	AssignmentID        string  `json:"assignment_id,omitempty"`
	EvalSetVersion      int     `json:"eval_set_version"`
	Score               float64 `json:"score"`
	CreatedMicros       int64   `json:"created_micros"`
}

// OnlineEvaluation accumulates deployment feedback for one model. The
// element id is the model id.
type OnlineEvaluation struct {
	ProjectID     string `json:"project_id"`
	BrainID       string `json:"brain_id"`
	SessionID     string `json:"session_id"`
	ModelID       string `json:"model_id"`
	Successes     int64  `json:"successes"`
	Failures      int64  `json:"failures"`
	CreatedMicros int64  `json:"created_micros"`
}

// SuccessRate is successes over total trials; zero when untried.
func (e *OnlineEvaluation) SuccessRate() float64 {
	total := e.Successes + e.Failures
	if total == 0 {
		return 0
	}
	return float64(e.Successes) / float64(total)
}

// Snapshot is an immutable pointer to the canonical model of a
// session.
type Snapshot struct {
	ProjectID     string `json:"project_id"`
	BrainID       string `json:"brain_id"`
	SnapshotID    string `json:"snapshot_id"`
	SessionID     string `json:"session_id"`
	ModelID       string `json:"model_id"`
	CreatedMicros int64  `json:"created_micros"`
}
