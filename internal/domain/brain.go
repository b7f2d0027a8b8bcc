package domain

// Brain owns a spec and all sessions trained against it. Immutable
// after creation.
type Brain struct {
	ProjectID     string     `json:"project_id"`
	BrainID       string     `json:"brain_id"`
	DisplayName   string     `json:"display_name,omitempty"`
	BrainSpec     *BrainSpec `json:"brain_spec,omitempty"`
	CreatedMicros int64      `json:"created_micros"`
}

// BrainSpec is the schema for observations and actions.
type BrainSpec struct {
	ObservationSpec *ObservationSpec `json:"observation_spec,omitempty"`
	ActionSpec      *ActionSpec      `json:"action_spec,omitempty"`
}

// ObservationSpec describes the entity tree observed each step: an
// optional player, an optional camera, and any number of global
// entities.
type ObservationSpec struct {
	Player         *EntityType   `json:"player,omitempty"`
	Camera         *EntityType   `json:"camera,omitempty"`
	GlobalEntities []*EntityType `json:"global_entities,omitempty"`
}

// EntityType carries an optional position, an optional rotation, and
// named typed fields.
type EntityType struct {
	Position *PositionType `json:"position,omitempty"`
	Rotation *RotationType `json:"rotation,omitempty"`
	Fields   []*FieldType  `json:"fields,omitempty"`
}

// PositionType marks a 3-vector observation by presence.
type PositionType struct{}

// RotationType marks a unit-quaternion observation by presence.
type RotationType struct{}

// FieldType is a named leaf; exactly one of the type members is set.
type FieldType struct {
	Name     string        `json:"name"`
	Number   *NumberType   `json:"number,omitempty"`
	Category *CategoryType `json:"category,omitempty"`
	Feeler   *FeelerType   `json:"feeler,omitempty"`
}

type NumberType struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

type CategoryType struct {
	EnumValues []string `json:"enum_values"`
}

// FeelerType describes a fan of distance rays, optionally with
// experimental per-ray category channels.
type FeelerType struct {
	Count            int             `json:"count"`
	Distance         *NumberType     `json:"distance,omitempty"`
	YawAngles        []float64       `json:"yaw_angles,omitempty"`
	ExperimentalData []*CategoryType `json:"experimental_data,omitempty"`
	Thickness        float64         `json:"thickness,omitempty"`
}

type ActionSpec struct {
	Actions []*ActionType `json:"actions"`
}

// ActionType is a named action leaf; exactly one of the type members
// is set.
type ActionType struct {
	Name     string        `json:"name"`
	Number   *NumberType   `json:"number,omitempty"`
	Category *CategoryType `json:"category,omitempty"`
	Joystick *JoystickType `json:"joystick,omitempty"`
}

type JoystickAxesMode string

const (
	AxesModeUndefined     JoystickAxesMode = "UNDEFINED"
	AxesModeDeltaPitchYaw JoystickAxesMode = "DELTA_PITCH_YAW"
	AxesModeDirectionXZ   JoystickAxesMode = "DIRECTION_XZ"
)

type JoystickType struct {
	AxesMode JoystickAxesMode `json:"axes_mode"`
	// ControlledEntity is "player" or "camera".
	ControlledEntity string `json:"controlled_entity,omitempty"`
	ControlFrame     string `json:"control_frame,omitempty"`
}
