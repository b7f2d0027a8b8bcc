package brainspec

import (
	"math"
	"sort"

	"github.com/understudy-ai/understudy-backend/internal/domain"
)

const quaternionTolerance = 1e-3

// WalkFunc receives each validated leaf with its flattened values, in
// canonical tree order.
type WalkFunc func(node *Node, values []float64) error

// WalkObservation validates data against the observation tree and maps
// each leaf through fn.
func (s *Spec) WalkObservation(data *domain.ObservationData, fn WalkFunc) error {
	root := s.Observations
	if data == nil {
		return typingf(root.Path, "observation data is missing")
	}
	player := root.child("player")
	if player == nil && data.Player != nil {
		return typingf(root.Path+"/player", "entity is not in the spec")
	}
	if player != nil {
		if err := walkEntity(player, data.Player, fn); err != nil {
			return err
		}
	}
	camera := root.child("camera")
	if camera == nil && data.Camera != nil {
		return typingf(root.Path+"/camera", "entity is not in the spec")
	}
	if camera != nil {
		if err := walkEntity(camera, data.Camera, fn); err != nil {
			return err
		}
	}
	globals := root.child("global_entities")
	if globals == nil {
		if len(data.GlobalEntities) > 0 {
			return typingf(root.Path+"/global_entities", "entities are not in the spec")
		}
		return nil
	}
	if len(data.GlobalEntities) != len(globals.Children) {
		return typingf(globals.Path, "has %d entities, want %d", len(data.GlobalEntities), len(globals.Children))
	}
	for i, entity := range globals.Children {
		if err := walkEntity(entity, data.GlobalEntities[i], fn); err != nil {
			return err
		}
	}
	return nil
}

func walkEntity(node *Node, data *domain.EntityData, fn WalkFunc) error {
	if data == nil {
		return typingf(node.Path, "entity data is missing")
	}
	fields := make(map[string]*domain.FieldData, len(data.Fields))
	for _, f := range data.Fields {
		if f == nil || f.Name == "" {
			return typingf(node.Path, "field datum has no name")
		}
		if _, dup := fields[f.Name]; dup {
			return typingf(node.Path+"/"+f.Name, "duplicate field datum")
		}
		fields[f.Name] = f
	}

	for _, child := range node.Children {
		switch leaf := child.Leaf.(type) {
		case PositionLeaf:
			if data.Position == nil {
				return typingf(child.Path, "missing position")
			}
			if err := fn(child, []float64{data.Position.X, data.Position.Y, data.Position.Z}); err != nil {
				return err
			}
		case RotationLeaf:
			if data.Rotation == nil {
				return typingf(child.Path, "missing rotation")
			}
			q := data.Rotation
			norm := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
			if math.Abs(norm-1) > quaternionTolerance {
				return typingf(child.Path, "quaternion norm %.4f is not within %g of 1", norm, quaternionTolerance)
			}
			if err := fn(child, []float64{q.X, q.Y, q.Z, q.W}); err != nil {
				return err
			}
		case NumberLeaf:
			fd := fields[child.Name]
			if fd == nil {
				return typingf(child.Path, "missing field datum")
			}
			delete(fields, child.Name)
			if fd.Number == nil {
				return typingf(child.Path, "expected number datum")
			}
			v := fd.Number.Value
			if v < leaf.Min || v > leaf.Max {
				return typingf(child.Path, "number %v out of range [%v, %v]", v, leaf.Min, leaf.Max)
			}
			if err := fn(child, []float64{v}); err != nil {
				return err
			}
		case CategoryLeaf:
			fd := fields[child.Name]
			if fd == nil {
				return typingf(child.Path, "missing field datum")
			}
			delete(fields, child.Name)
			if fd.Category == nil {
				return typingf(child.Path, "expected category datum")
			}
			if err := checkCategory(child.Path, leaf, fd.Category.Value); err != nil {
				return err
			}
			if err := fn(child, []float64{float64(fd.Category.Value)}); err != nil {
				return err
			}
		case FeelerLeaf:
			fd := fields[child.Name]
			if fd == nil {
				return typingf(child.Path, "missing field datum")
			}
			delete(fields, child.Name)
			if fd.Feeler == nil {
				return typingf(child.Path, "expected feeler datum")
			}
			values, err := feelerValues(child.Path, leaf, fd.Feeler)
			if err != nil {
				return err
			}
			if err := fn(child, values); err != nil {
				return err
			}
		}
	}

	if data.Position != nil && node.child("position") == nil {
		return typingf(node.Path+"/position", "position is not in the spec")
	}
	if data.Rotation != nil && node.child("rotation") == nil {
		return typingf(node.Path+"/rotation", "rotation is not in the spec")
	}
	if len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		return typingf(node.Path+"/"+names[0], "field is not in the spec")
	}
	return nil
}

func checkCategory(path string, leaf CategoryLeaf, value int) error {
	if value < 0 || value >= len(leaf.EnumValues) {
		return typingf(path, "category %d out of range [0, %d]", value, len(leaf.EnumValues)-1)
	}
	return nil
}

func feelerValues(path string, leaf FeelerLeaf, data *domain.FeelerData) ([]float64, error) {
	if len(data.Measurements) != leaf.Count {
		return nil, typingf(path, "feeler has %d measurements, want %d", len(data.Measurements), leaf.Count)
	}
	channels := len(leaf.Experimental)
	values := make([]float64, 0, leaf.Count*(1+channels))
	for i, m := range data.Measurements {
		if m == nil {
			return nil, typingf(path, "measurement %d is missing", i)
		}
		if m.Distance < leaf.Distance.Min || m.Distance > leaf.Distance.Max {
			return nil, typingf(path, "measurement %d distance %v out of range [%v, %v]",
				i, m.Distance, leaf.Distance.Min, leaf.Distance.Max)
		}
		if len(m.ExperimentalData) != channels {
			return nil, typingf(path, "measurement %d has %d experimental values, want %d",
				i, len(m.ExperimentalData), channels)
		}
		values = append(values, m.Distance)
		for ci, ev := range m.ExperimentalData {
			n := len(leaf.Experimental[ci].EnumValues)
			if ev < 0 || ev >= n {
				return nil, typingf(path, "measurement %d experimental value %d out of range [0, %d]", i, ev, n-1)
			}
			values = append(values, float64(ev))
		}
	}
	return values, nil
}

// WalkAction validates data against the action tree and maps each leaf
// through fn.
func (s *Spec) WalkAction(data *domain.ActionData, fn WalkFunc) error {
	if data == nil {
		return typingf(s.Actions.Path, "action data is missing")
	}
	actions := s.Actions.Children[0]
	byName := make(map[string]*domain.ActionValue, len(data.Actions))
	for _, a := range data.Actions {
		if a == nil || a.Name == "" {
			return typingf(actions.Path, "action datum has no name")
		}
		if _, dup := byName[a.Name]; dup {
			return typingf(actions.Path+"/"+a.Name, "duplicate action datum")
		}
		byName[a.Name] = a
	}

	for _, child := range actions.Children {
		av := byName[child.Name]
		if av == nil {
			return typingf(child.Path, "missing action datum")
		}
		delete(byName, child.Name)
		switch leaf := child.Leaf.(type) {
		case NumberLeaf:
			if av.Number == nil {
				return typingf(child.Path, "expected number datum")
			}
			v := av.Number.Value
			if v < leaf.Min || v > leaf.Max {
				return typingf(child.Path, "number %v out of range [%v, %v]", v, leaf.Min, leaf.Max)
			}
			if err := fn(child, []float64{v}); err != nil {
				return err
			}
		case CategoryLeaf:
			if av.Category == nil {
				return typingf(child.Path, "expected category datum")
			}
			if err := checkCategory(child.Path, leaf, av.Category.Value); err != nil {
				return err
			}
			if err := fn(child, []float64{float64(av.Category.Value)}); err != nil {
				return err
			}
		case JoystickLeaf:
			if av.Joystick == nil {
				return typingf(child.Path, "expected joystick datum")
			}
			if av.Joystick.XAxis < -1 || av.Joystick.XAxis > 1 {
				return typingf(child.Path, "x_axis %v out of range [-1, 1]", av.Joystick.XAxis)
			}
			if av.Joystick.YAxis < -1 || av.Joystick.YAxis > 1 {
				return typingf(child.Path, "y_axis %v out of range [-1, 1]", av.Joystick.YAxis)
			}
			if err := fn(child, []float64{av.Joystick.XAxis, av.Joystick.YAxis}); err != nil {
				return err
			}
		}
	}

	if len(byName) > 0 {
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		return typingf(actions.Path+"/"+names[0], "action is not in the spec")
	}
	return nil
}

// ValidateObservation checks data against the spec without mapping.
func (s *Spec) ValidateObservation(data *domain.ObservationData) error {
	return s.WalkObservation(data, func(*Node, []float64) error { return nil })
}

// ValidateAction checks data against the spec without mapping.
func (s *Spec) ValidateAction(data *domain.ActionData) error {
	return s.WalkAction(data, func(*Node, []float64) error { return nil })
}

// ValidateStep checks one step's observation and action.
func (s *Spec) ValidateStep(step *domain.Step) error {
	if step == nil {
		return typingf("step", "step is missing")
	}
	if err := s.ValidateObservation(step.Observation); err != nil {
		return err
	}
	return s.ValidateAction(step.Action)
}

// LeafTensor is one leaf's flattened values, keyed by its tree path.
type LeafTensor struct {
	Path   string
	Values []float64
}

// ObservationTensors validates and flattens observation data in tree
// order.
func (s *Spec) ObservationTensors(data *domain.ObservationData) ([]LeafTensor, error) {
	var out []LeafTensor
	err := s.WalkObservation(data, func(n *Node, values []float64) error {
		out = append(out, LeafTensor{Path: n.Path, Values: values})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActionTensors validates and flattens action data in tree order.
func (s *Spec) ActionTensors(data *domain.ActionData) ([]LeafTensor, error) {
	var out []LeafTensor
	err := s.WalkAction(data, func(n *Node, values []float64) error {
		out = append(out, LeafTensor{Path: n.Path, Values: values})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
