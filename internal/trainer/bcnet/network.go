package bcnet

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/understudy-ai/understudy-backend/internal/brainspec"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

const learningRate = 1e-3

// head maps one action leaf onto a slice of the network output.
// Categorical leaves hold a class index in the flattened action vector
// but occupy one logit per class in the output.
type head struct {
	name    string
	inOff   int
	inLen   int
	outOff  int
	outLen  int
	classes int
}

func buildHeads(specs []brainspec.TensorSpec) (heads []head, actionDim, outDim int) {
	for _, ts := range specs {
		h := head{name: ts.Name, inOff: actionDim, inLen: ts.Elements(), outOff: outDim}
		if ts.Dtype == brainspec.DtypeInt32 {
			h.classes = int(ts.High[0]) + 1
			h.outLen = h.classes
		} else {
			h.outLen = h.inLen
		}
		heads = append(heads, h)
		actionDim += h.inLen
		outDim += h.outLen
	}
	return heads, actionDim, outDim
}

// network is a fully-connected policy: observation in, per-head
// regression values or logits out.
type network struct {
	dims        []int
	activation  string
	initializer string
	dropout     []float64
	heads       []head

	weights []*mat.Dense
	biases  []*mat.VecDense
	rng     *rand.Rand
}

func newNetwork(obsDim int, actionSpecs []brainspec.TensorSpec, h trainer.Hyperparameters, rng *rand.Rand) *network {
	heads, _, outDim := buildHeads(actionSpecs)
	dims := make([]int, 0, len(h.FCLayers)+2)
	dims = append(dims, obsDim)
	dims = append(dims, h.FCLayers...)
	dims = append(dims, outDim)

	n := &network{
		dims:        dims,
		activation:  h.ActivationFn,
		initializer: h.Initializer,
		dropout:     h.Dropout,
		heads:       heads,
		rng:         rng,
	}
	n.initWeights()
	return n
}

func (n *network) layers() int { return len(n.dims) - 1 }

func (n *network) initWeights() {
	n.weights = make([]*mat.Dense, n.layers())
	n.biases = make([]*mat.VecDense, n.layers())
	for l := 0; l < n.layers(); l++ {
		in, out := n.dims[l], n.dims[l+1]
		data := make([]float64, out*in)
		switch n.initializer {
		case "glorot_uniform":
			limit := math.Sqrt(6 / float64(in+out))
			for i := range data {
				data[i] = (n.rng.Float64()*2 - 1) * limit
			}
		case "he_normal":
			std := math.Sqrt(2 / float64(in))
			for i := range data {
				data[i] = n.rng.NormFloat64() * std
			}
		case "zeros":
			// leave zeroed
		}
		n.weights[l] = mat.NewDense(out, in, data)
		n.biases[l] = mat.NewVecDense(out, nil)
	}
}

// dropoutRate returns the keep-out rate for hidden layer l, or 0.
func (n *network) dropoutRate(l int) float64 {
	switch len(n.dropout) {
	case 0:
		return 0
	case 1:
		return n.dropout[0]
	default:
		return n.dropout[l]
	}
}

func (n *network) activate(z float64) float64 {
	switch n.activation {
	case "tanh":
		return math.Tanh(z)
	case "sigmoid":
		return 1 / (1 + math.Exp(-z))
	default: // relu
		return math.Max(0, z)
	}
}

// activateGrad is the activation derivative in terms of the activated
// value a.
func (n *network) activateGrad(a float64) float64 {
	switch n.activation {
	case "tanh":
		return 1 - a*a
	case "sigmoid":
		return a * (1 - a)
	default: // relu
		if a > 0 {
			return 1
		}
		return 0
	}
}

// forward runs one frame. With train set, inverted dropout is applied
// to the hidden layers; derivs carries d(activation)/dz per hidden
// layer with the dropout scaling folded in, for backprop.
func (n *network) forward(obs []float64, train bool) (acts []*mat.VecDense, derivs []*mat.VecDense) {
	acts = make([]*mat.VecDense, n.layers()+1)
	derivs = make([]*mat.VecDense, n.layers())
	acts[0] = mat.NewVecDense(len(obs), append([]float64(nil), obs...))

	for l := 0; l < n.layers(); l++ {
		z := mat.NewVecDense(n.dims[l+1], nil)
		z.MulVec(n.weights[l], acts[l])
		z.AddVec(z, n.biases[l])

		if last := l == n.layers()-1; last {
			acts[l+1] = z
			break
		}

		rate := 0.0
		if train {
			rate = n.dropoutRate(l)
		}
		scale := 1 / (1 - rate)
		a := mat.NewVecDense(z.Len(), nil)
		deriv := mat.NewVecDense(z.Len(), nil)
		for i := 0; i < z.Len(); i++ {
			v := n.activate(z.AtVec(i))
			d := n.activateGrad(v)
			if rate > 0 {
				if n.rng.Float64() < rate {
					v, d = 0, 0
				} else {
					v *= scale
					d *= scale
				}
			}
			a.SetVec(i, v)
			deriv.SetVec(i, d)
		}
		acts[l+1] = a
		derivs[l] = deriv
	}
	return acts, derivs
}

// outputLoss computes the per-head loss and the gradient at the output
// layer for one frame.
func (n *network) outputLoss(out *mat.VecDense, action []float64) (float64, *mat.VecDense) {
	grad := mat.NewVecDense(out.Len(), nil)
	loss := 0.0
	for _, h := range n.heads {
		if h.classes > 0 {
			label := int(math.Round(action[h.inOff]))
			if label < 0 {
				label = 0
			}
			if label >= h.classes {
				label = h.classes - 1
			}
			probs := softmax(out, h.outOff, h.outLen)
			loss += -math.Log(math.Max(probs[label], 1e-12))
			for i := 0; i < h.outLen; i++ {
				g := probs[i]
				if i == label {
					g--
				}
				grad.SetVec(h.outOff+i, g)
			}
			continue
		}
		for i := 0; i < h.outLen; i++ {
			diff := out.AtVec(h.outOff+i) - action[h.inOff+i]
			loss += 0.5 * diff * diff
			grad.SetVec(h.outOff+i, diff)
		}
	}
	return loss, grad
}

func softmax(v *mat.VecDense, off, n int) []float64 {
	max := math.Inf(-1)
	for i := 0; i < n; i++ {
		if x := v.AtVec(off + i); x > max {
			max = x
		}
	}
	out := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		out[i] = math.Exp(v.AtVec(off+i) - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// trainBatch runs one SGD step over the frames and returns the mean
// loss before the update.
func (n *network) trainBatch(frames []trainer.Frame) float64 {
	gradW := make([]*mat.Dense, n.layers())
	gradB := make([]*mat.VecDense, n.layers())
	for l := 0; l < n.layers(); l++ {
		gradW[l] = mat.NewDense(n.dims[l+1], n.dims[l], nil)
		gradB[l] = mat.NewVecDense(n.dims[l+1], nil)
	}

	total := 0.0
	for _, f := range frames {
		acts, derivs := n.forward(f.Observation, true)
		loss, delta := n.outputLoss(acts[n.layers()], f.Action)
		total += loss

		for l := n.layers() - 1; l >= 0; l-- {
			gradW[l].RankOne(gradW[l], 1, delta, acts[l])
			gradB[l].AddVec(gradB[l], delta)
			if l == 0 {
				break
			}
			prev := mat.NewVecDense(n.dims[l], nil)
			prev.MulVec(n.weights[l].T(), delta)
			prev.MulElemVec(prev, derivs[l-1])
			delta = prev
		}
	}

	step := learningRate / float64(len(frames))
	for l := 0; l < n.layers(); l++ {
		gradW[l].Scale(step, gradW[l])
		n.weights[l].Sub(n.weights[l], gradW[l])
		gradB[l].ScaleVec(step, gradB[l])
		n.biases[l].SubVec(n.biases[l], gradB[l])
	}
	return total / float64(len(frames))
}

// evaluate scores frames without dropout or updates. Lower is better.
func (n *network) evaluate(frames []trainer.Frame) (float64, error) {
	if len(frames) == 0 {
		return 0, svcerr.InvalidArgument("evaluation batch is empty")
	}
	total := 0.0
	for _, f := range frames {
		acts, _ := n.forward(f.Observation, false)
		loss, _ := n.outputLoss(acts[n.layers()], f.Action)
		total += loss
	}
	return total / float64(len(frames)), nil
}
