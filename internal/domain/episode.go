package domain

type EpisodeState string

const (
	EpisodeStateInProgress EpisodeState = "IN_PROGRESS"
	EpisodeStateSuccess    EpisodeState = "SUCCESS"
	EpisodeStateFailure    EpisodeState = "FAILURE"
	EpisodeStateGaveUp     EpisodeState = "GAVE_UP"
)

// Terminal reports whether the state closes its episode.
func (s EpisodeState) Terminal() bool {
	switch s {
	case EpisodeStateSuccess, EpisodeStateFailure, EpisodeStateGaveUp:
		return true
	}
	return false
}

type StepPhase string

const (
	StepPhaseUnspecified StepPhase = "UNSPECIFIED"
	StepPhaseStart       StepPhase = "START"
	StepPhaseOngoing     StepPhase = "ONGOING"
	StepPhaseEnd         StepPhase = "END"
)

// EpisodeChunk is a contiguous, atomically-submitted subrange of an
// episode. Chunk ids are dense integers from 0; a chunk whose state is
// terminal is the last of its episode.
type EpisodeChunk struct {
	ProjectID     string       `json:"project_id"`
	BrainID       string       `json:"brain_id"`
	SessionID     string       `json:"session_id"`
	EpisodeID     string       `json:"episode_id"`
	ChunkID       int          `json:"chunk_id"`
	Steps         []*Step      `json:"steps,omitempty"`
	EpisodeState  EpisodeState `json:"episode_state"`
	ModelID       string       `json:"model_id,omitempty"`
	CreatedMicros int64        `json:"created_micros"`
}

type Step struct {
	Observation *ObservationData `json:"observation,omitempty"`
	Action      *ActionData      `json:"action,omitempty"`
	Reward      *float64         `json:"reward,omitempty"`
	Phase       StepPhase        `json:"phase,omitempty"`
}

// ObservationData parallels ObservationSpec.
type ObservationData struct {
	Player         *EntityData   `json:"player,omitempty"`
	Camera         *EntityData   `json:"camera,omitempty"`
	GlobalEntities []*EntityData `json:"global_entities,omitempty"`
}

type EntityData struct {
	Position *Position    `json:"position,omitempty"`
	Rotation *Rotation    `json:"rotation,omitempty"`
	Fields   []*FieldData `json:"fields,omitempty"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// FieldData is a named leaf value; exactly one of the value members is
// set, matching the FieldType with the same name.
type FieldData struct {
	Name     string        `json:"name"`
	Number   *NumberData   `json:"number,omitempty"`
	Category *CategoryData `json:"category,omitempty"`
	Feeler   *FeelerData   `json:"feeler,omitempty"`
}

type NumberData struct {
	Value float64 `json:"value"`
}

type CategoryData struct {
	Value int `json:"value"`
}

type FeelerData struct {
	Measurements []*FeelerMeasurement `json:"measurements"`
}

type FeelerMeasurement struct {
	Distance         float64 `json:"distance"`
	ExperimentalData []int   `json:"experimental_data,omitempty"`
}

type ActionSource string

const (
	ActionSourceUnknown            ActionSource = "SOURCE_UNKNOWN"
	ActionSourceHumanDemonstration ActionSource = "HUMAN_DEMONSTRATION"
	ActionSourceBrainAction        ActionSource = "BRAIN_ACTION"
	ActionSourceNoSource           ActionSource = "NO_SOURCE"
)

// ActionData parallels ActionSpec.
type ActionData struct {
	Source  ActionSource   `json:"source,omitempty"`
	Actions []*ActionValue `json:"actions,omitempty"`
}

type ActionValue struct {
	Name     string        `json:"name"`
	Number   *NumberData   `json:"number,omitempty"`
	Category *CategoryData `json:"category,omitempty"`
	Joystick *JoystickData `json:"joystick,omitempty"`
}

type JoystickData struct {
	XAxis float64 `json:"x_axis"`
	YAxis float64 `json:"y_axis"`
}
