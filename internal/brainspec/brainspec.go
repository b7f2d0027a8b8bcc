package brainspec

import (
	"fmt"

	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

// Spec is a brain spec parsed into a typed tree. Leaves are the atomic
// observation/action types; interior nodes mirror the proto structure.
// Tree order is canonical: player, camera, global entities by index,
// and within an entity position, rotation, then fields in declared
// order. Walks, tensor specs and tensor conversion all share it.
type Spec struct {
	Observations *Node
	Actions      *Node
}

// Node is one vertex of the tree. Leaf is nil for interior nodes.
type Node struct {
	Name     string
	Path     string
	Leaf     Leaf
	Children []*Node
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Leaf is the closed sum of atomic spec types.
type Leaf interface{ isLeaf() }

type NumberLeaf struct {
	Min float64
	Max float64
}

type CategoryLeaf struct {
	EnumValues []string
}

type PositionLeaf struct{}

type RotationLeaf struct{}

type FeelerLeaf struct {
	Count        int
	Distance     NumberLeaf
	YawAngles    []float64
	Experimental []CategoryLeaf
	Thickness    float64
}

type JoystickLeaf struct {
	AxesMode         domain.JoystickAxesMode
	ControlledEntity string
	ControlFrame     string
}

func (NumberLeaf) isLeaf()   {}
func (CategoryLeaf) isLeaf() {}
func (PositionLeaf) isLeaf() {}
func (RotationLeaf) isLeaf() {}
func (FeelerLeaf) isLeaf()   {}
func (JoystickLeaf) isLeaf() {}

// TypingError reports a datum that does not match its spec leaf. The
// ingestor prefixes chunk/step context before surfacing it.
type TypingError struct {
	Path   string
	Reason string
}

func (e *TypingError) Error() string { return e.Path + ": " + e.Reason }

// Is classifies typing errors as invalid arguments.
func (e *TypingError) Is(target error) bool { return target == svcerr.ErrInvalidArgument }

func typingf(path, format string, args ...interface{}) error {
	return &TypingError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// New parses a brain spec into its typed tree, or fails with an
// invalid-argument error naming the offending path.
func New(spec *domain.BrainSpec) (*Spec, error) {
	if spec == nil {
		return nil, svcerr.InvalidArgument("brain_spec is unset")
	}
	obs, err := buildObservations(spec.ObservationSpec)
	if err != nil {
		return nil, err
	}
	act, err := buildActions(spec.ActionSpec)
	if err != nil {
		return nil, err
	}
	return &Spec{Observations: obs, Actions: act}, nil
}

func buildObservations(os *domain.ObservationSpec) (*Node, error) {
	if os == nil {
		return nil, svcerr.InvalidArgument("observation_spec is unset")
	}
	root := &Node{Name: "observation_spec", Path: "observation_spec"}
	if os.Player != nil {
		n, err := buildEntity("observation_spec/player", os.Player)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, n)
	}
	if os.Camera != nil {
		n, err := buildEntity("observation_spec/camera", os.Camera)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, n)
	}
	if len(os.GlobalEntities) > 0 {
		globals := &Node{Name: "global_entities", Path: "observation_spec/global_entities"}
		for i, e := range os.GlobalEntities {
			path := fmt.Sprintf("observation_spec/global_entities/%d", i)
			if e == nil {
				return nil, svcerr.InvalidArgument("%s: entity is unset", path)
			}
			n, err := buildEntity(path, e)
			if err != nil {
				return nil, err
			}
			globals.Children = append(globals.Children, n)
		}
		root.Children = append(root.Children, globals)
	}
	if len(root.Children) == 0 {
		return nil, svcerr.InvalidArgument("observation_spec has no entities")
	}
	return root, nil
}

func buildEntity(path string, e *domain.EntityType) (*Node, error) {
	name := path[lastSlash(path)+1:]
	node := &Node{Name: name, Path: path}
	if e.Position != nil {
		node.Children = append(node.Children, &Node{Name: "position", Path: path + "/position", Leaf: PositionLeaf{}})
	}
	if e.Rotation != nil {
		node.Children = append(node.Children, &Node{Name: "rotation", Path: path + "/rotation", Leaf: RotationLeaf{}})
	}
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f == nil || f.Name == "" {
			return nil, svcerr.InvalidArgument("%s: field has no name", path)
		}
		fieldPath := path + "/" + f.Name
		if f.Name == "position" || f.Name == "rotation" {
			return nil, svcerr.InvalidArgument("%s: field name is reserved", fieldPath)
		}
		if seen[f.Name] {
			return nil, svcerr.InvalidArgument("%s: duplicate field name", fieldPath)
		}
		seen[f.Name] = true
		leaf, err := buildFieldLeaf(fieldPath, f)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, &Node{Name: f.Name, Path: fieldPath, Leaf: leaf})
	}
	if len(node.Children) == 0 {
		return nil, svcerr.InvalidArgument("%s: entity has no position, rotation or fields", path)
	}
	return node, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func buildFieldLeaf(path string, f *domain.FieldType) (Leaf, error) {
	set := 0
	if f.Number != nil {
		set++
	}
	if f.Category != nil {
		set++
	}
	if f.Feeler != nil {
		set++
	}
	if set != 1 {
		return nil, svcerr.InvalidArgument("%s: field must set exactly one of number, category or feeler", path)
	}
	switch {
	case f.Number != nil:
		return buildNumberLeaf(path, f.Number)
	case f.Category != nil:
		return buildCategoryLeaf(path, f.Category)
	default:
		return buildFeelerLeaf(path, f.Feeler)
	}
}

func buildNumberLeaf(path string, t *domain.NumberType) (Leaf, error) {
	if t.Minimum >= t.Maximum {
		return nil, svcerr.InvalidArgument("%s: min %v >= max %v", path, t.Minimum, t.Maximum)
	}
	return NumberLeaf{Min: t.Minimum, Max: t.Maximum}, nil
}

func buildCategoryLeaf(path string, t *domain.CategoryType) (Leaf, error) {
	if len(t.EnumValues) == 0 {
		return nil, svcerr.InvalidArgument("%s: category has no enum values", path)
	}
	return CategoryLeaf{EnumValues: t.EnumValues}, nil
}

func buildFeelerLeaf(path string, t *domain.FeelerType) (Leaf, error) {
	if t.Count <= 0 {
		return nil, svcerr.InvalidArgument("%s: feeler count %d must be positive", path, t.Count)
	}
	if t.Distance == nil {
		return nil, svcerr.InvalidArgument("%s: feeler has no distance range", path)
	}
	if t.Distance.Minimum >= t.Distance.Maximum {
		return nil, svcerr.InvalidArgument("%s: min %v >= max %v", path, t.Distance.Minimum, t.Distance.Maximum)
	}
	if len(t.YawAngles) > 0 && len(t.YawAngles) != t.Count {
		return nil, svcerr.InvalidArgument("%s: feeler has %d yaw angles, want %d", path, len(t.YawAngles), t.Count)
	}
	leaf := FeelerLeaf{
		Count:     t.Count,
		Distance:  NumberLeaf{Min: t.Distance.Minimum, Max: t.Distance.Maximum},
		YawAngles: t.YawAngles,
		Thickness: t.Thickness,
	}
	for i, ch := range t.ExperimentalData {
		if ch == nil || len(ch.EnumValues) == 0 {
			return nil, svcerr.InvalidArgument("%s: feeler experimental channel %d has no enum values", path, i)
		}
		leaf.Experimental = append(leaf.Experimental, CategoryLeaf{EnumValues: ch.EnumValues})
	}
	return leaf, nil
}

func buildActions(as *domain.ActionSpec) (*Node, error) {
	if as == nil {
		return nil, svcerr.InvalidArgument("action_spec is unset")
	}
	if len(as.Actions) == 0 {
		return nil, svcerr.InvalidArgument("action_spec has no actions")
	}
	actions := &Node{Name: "actions", Path: "action_spec/actions"}
	seen := make(map[string]bool, len(as.Actions))
	for _, a := range as.Actions {
		if a == nil || a.Name == "" {
			return nil, svcerr.InvalidArgument("action_spec/actions: action has no name")
		}
		path := "action_spec/actions/" + a.Name
		if seen[a.Name] {
			return nil, svcerr.InvalidArgument("%s: duplicate action name", path)
		}
		seen[a.Name] = true
		leaf, err := buildActionLeaf(path, a)
		if err != nil {
			return nil, err
		}
		actions.Children = append(actions.Children, &Node{Name: a.Name, Path: path, Leaf: leaf})
	}
	return &Node{Name: "action_spec", Path: "action_spec", Children: []*Node{actions}}, nil
}

func buildActionLeaf(path string, a *domain.ActionType) (Leaf, error) {
	set := 0
	if a.Number != nil {
		set++
	}
	if a.Category != nil {
		set++
	}
	if a.Joystick != nil {
		set++
	}
	if set != 1 {
		return nil, svcerr.InvalidArgument("%s: action must set exactly one of number, category or joystick", path)
	}
	switch {
	case a.Number != nil:
		return buildNumberLeaf(path, a.Number)
	case a.Category != nil:
		return buildCategoryLeaf(path, a.Category)
	default:
		return buildJoystickLeaf(path, a.Joystick)
	}
}

func buildJoystickLeaf(path string, j *domain.JoystickType) (Leaf, error) {
	switch j.AxesMode {
	case domain.AxesModeDeltaPitchYaw, domain.AxesModeDirectionXZ:
	default:
		return nil, svcerr.InvalidArgument("%s: joystick axes_mode %q is not supported", path, j.AxesMode)
	}
	if err := checkEntityReference(path, "controlled_entity", j.ControlledEntity); err != nil {
		return nil, err
	}
	if err := checkEntityReference(path, "control_frame", j.ControlFrame); err != nil {
		return nil, err
	}
	return JoystickLeaf{
		AxesMode:         j.AxesMode,
		ControlledEntity: j.ControlledEntity,
		ControlFrame:     j.ControlFrame,
	}, nil
}

func checkEntityReference(path, field, value string) error {
	switch value {
	case "", "player", "camera":
		return nil
	}
	return svcerr.InvalidArgument("%s: joystick %s %q must be player or camera", path, field, value)
}
