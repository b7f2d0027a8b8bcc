package brainspec

type Dtype string

const (
	DtypeFloat32 Dtype = "float32"
	DtypeInt32   Dtype = "int32"
)

// TensorSpec describes one leaf as the trainer sees it: a named tensor
// with shape, dtype and optional per-element bounds.
type TensorSpec struct {
	Name  string
	Shape []int
	Dtype Dtype
	Low   []float64
	High  []float64
}

// Elements is the flattened length of the tensor.
func (t TensorSpec) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// TensorSpec converts a leaf node; interior nodes return false.
func (n *Node) TensorSpec() (TensorSpec, bool) {
	switch leaf := n.Leaf.(type) {
	case NumberLeaf:
		return TensorSpec{
			Name: n.Path, Shape: []int{1}, Dtype: DtypeFloat32,
			Low: []float64{leaf.Min}, High: []float64{leaf.Max},
		}, true
	case CategoryLeaf:
		return TensorSpec{
			Name: n.Path, Shape: []int{1}, Dtype: DtypeInt32,
			Low: []float64{0}, High: []float64{float64(len(leaf.EnumValues) - 1)},
		}, true
	case PositionLeaf:
		return TensorSpec{Name: n.Path, Shape: []int{3}, Dtype: DtypeFloat32}, true
	case RotationLeaf:
		return TensorSpec{
			Name: n.Path, Shape: []int{4}, Dtype: DtypeFloat32,
			Low: repeat(-1, 4), High: repeat(1, 4),
		}, true
	case FeelerLeaf:
		columns := 1 + len(leaf.Experimental)
		low := make([]float64, 0, leaf.Count*columns)
		high := make([]float64, 0, leaf.Count*columns)
		for i := 0; i < leaf.Count; i++ {
			low = append(low, leaf.Distance.Min)
			high = append(high, leaf.Distance.Max)
			for _, ch := range leaf.Experimental {
				low = append(low, 0)
				high = append(high, float64(len(ch.EnumValues)-1))
			}
		}
		return TensorSpec{
			Name: n.Path, Shape: []int{leaf.Count, columns}, Dtype: DtypeFloat32,
			Low: low, High: high,
		}, true
	case JoystickLeaf:
		return TensorSpec{
			Name: n.Path, Shape: []int{2}, Dtype: DtypeFloat32,
			Low: repeat(-1, 2), High: repeat(1, 2),
		}, true
	}
	return TensorSpec{}, false
}

func collectTensorSpecs(n *Node, out *[]TensorSpec) {
	if spec, ok := n.TensorSpec(); ok {
		*out = append(*out, spec)
		return
	}
	for _, c := range n.Children {
		collectTensorSpecs(c, out)
	}
}

// ObservationTensorSpecs lists observation leaves in tree order.
func (s *Spec) ObservationTensorSpecs() []TensorSpec {
	var out []TensorSpec
	collectTensorSpecs(s.Observations, &out)
	return out
}

// ActionTensorSpecs lists action leaves in tree order.
func (s *Spec) ActionTensorSpecs() []TensorSpec {
	var out []TensorSpec
	collectTensorSpecs(s.Actions, &out)
	return out
}

// ObservationDim is the total flattened observation width.
func (s *Spec) ObservationDim() int {
	n := 0
	for _, ts := range s.ObservationTensorSpecs() {
		n += ts.Elements()
	}
	return n
}

// ActionDim is the total flattened action width.
func (s *Spec) ActionDim() int {
	n := 0
	for _, ts := range s.ActionTensorSpecs() {
		n += ts.Elements()
	}
	return n
}
