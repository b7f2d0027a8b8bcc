// Package testfix provides canonical domain fixtures shared by tests
// across packages: a brain spec exercising every leaf type and data
// that validates against it.
package testfix

import "github.com/understudy-ai/understudy-backend/internal/domain"

// BrainSpec covers every leaf type: position, rotation, number,
// category and feeler observations; number, category and joystick
// actions.
func BrainSpec() *domain.BrainSpec {
	return &domain.BrainSpec{
		ObservationSpec: &domain.ObservationSpec{
			Player: &domain.EntityType{
				Position: &domain.PositionType{},
				Rotation: &domain.RotationType{},
				Fields: []*domain.FieldType{
					{Name: "health", Number: &domain.NumberType{Minimum: 0, Maximum: 100}},
					{Name: "stance", Category: &domain.CategoryType{EnumValues: []string{"crouch", "stand", "run"}}},
					{Name: "feelers", Feeler: &domain.FeelerType{
						Count:    3,
						Distance: &domain.NumberType{Minimum: 0, Maximum: 50},
						ExperimentalData: []*domain.CategoryType{
							{EnumValues: []string{"air", "wall"}},
						},
					}},
				},
			},
			Camera: &domain.EntityType{
				Position: &domain.PositionType{},
			},
			GlobalEntities: []*domain.EntityType{
				{Fields: []*domain.FieldType{
					{Name: "visible", Category: &domain.CategoryType{EnumValues: []string{"no", "yes"}}},
				}},
			},
		},
		ActionSpec: &domain.ActionSpec{
			Actions: []*domain.ActionType{
				{Name: "throttle", Number: &domain.NumberType{Minimum: -1, Maximum: 1}},
				{Name: "gear", Category: &domain.CategoryType{EnumValues: []string{"low", "high"}}},
				{Name: "move", Joystick: &domain.JoystickType{
					AxesMode:         domain.AxesModeDirectionXZ,
					ControlledEntity: "player",
				}},
			},
		},
	}
}

// MinimalBrainSpec is the smallest useful spec: a player position and
// one number action.
func MinimalBrainSpec() *domain.BrainSpec {
	return &domain.BrainSpec{
		ObservationSpec: &domain.ObservationSpec{
			Player: &domain.EntityType{Position: &domain.PositionType{}},
		},
		ActionSpec: &domain.ActionSpec{
			Actions: []*domain.ActionType{
				{Name: "a", Number: &domain.NumberType{Minimum: -1, Maximum: 1}},
			},
		},
	}
}

// Observation validates against BrainSpec.
func Observation() *domain.ObservationData {
	return &domain.ObservationData{
		Player: &domain.EntityData{
			Position: &domain.Position{X: 1, Y: 2, Z: 3},
			Rotation: &domain.Rotation{X: 0, Y: 0, Z: 0, W: 1},
			Fields: []*domain.FieldData{
				{Name: "health", Number: &domain.NumberData{Value: 70}},
				{Name: "stance", Category: &domain.CategoryData{Value: 1}},
				{Name: "feelers", Feeler: &domain.FeelerData{
					Measurements: []*domain.FeelerMeasurement{
						{Distance: 5, ExperimentalData: []int{0}},
						{Distance: 10, ExperimentalData: []int{1}},
						{Distance: 15, ExperimentalData: []int{0}},
					},
				}},
			},
		},
		Camera: &domain.EntityData{
			Position: &domain.Position{X: 0, Y: 5, Z: -2},
		},
		GlobalEntities: []*domain.EntityData{
			{Fields: []*domain.FieldData{
				{Name: "visible", Category: &domain.CategoryData{Value: 1}},
			}},
		},
	}
}

// Action validates against BrainSpec.
func Action() *domain.ActionData {
	return &domain.ActionData{
		Source: domain.ActionSourceHumanDemonstration,
		Actions: []*domain.ActionValue{
			{Name: "throttle", Number: &domain.NumberData{Value: 0.5}},
			{Name: "gear", Category: &domain.CategoryData{Value: 0}},
			{Name: "move", Joystick: &domain.JoystickData{XAxis: 0.1, YAxis: -0.9}},
		},
	}
}

// Step pairs Observation with Action.
func Step() *domain.Step {
	return &domain.Step{
		Observation: Observation(),
		Action:      Action(),
		Phase:       domain.StepPhaseOngoing,
	}
}

// Chunk builds a chunk of n valid steps for the given episode.
func Chunk(project, brain, session, episode string, chunkID, steps int, state domain.EpisodeState) *domain.EpisodeChunk {
	c := &domain.EpisodeChunk{
		ProjectID:    project,
		BrainID:      brain,
		SessionID:    session,
		EpisodeID:    episode,
		ChunkID:      chunkID,
		EpisodeState: state,
	}
	for i := 0; i < steps; i++ {
		c.Steps = append(c.Steps, Step())
	}
	return c
}
