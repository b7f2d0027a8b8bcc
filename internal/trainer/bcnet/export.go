package bcnet

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

const (
	checkpointFormat = "understudy.checkpoint.v1"
	savedModelFormat = "understudy.saved_model.v1"
	inferenceFormat  = "understudy.inference.v1"

	manifestFile = "manifest.json"
)

type layerState struct {
	Kernel [][]float64 `json:"kernel"`
	Bias   []float64   `json:"bias"`
}

type checkpointState struct {
	Format            string                  `json:"format"`
	Hyperparameters   trainer.Hyperparameters `json:"hyperparameters"`
	Dims              []int                   `json:"dims"`
	Batches           int64                   `json:"batches"`
	ExamplesCompleted int64                   `json:"examples_completed"`
	LastDemoMicros    int64                   `json:"last_demo_micros"`
	Layers            []layerState            `json:"layers"`
}

type tensorManifest struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Dtype string `json:"dtype"`
}

type modelManifest struct {
	Format     string           `json:"format"`
	Inputs     []tensorManifest `json:"inputs"`
	Outputs    []tensorManifest `json:"outputs"`
	Activation string           `json:"activation"`
	Dims       []int            `json:"dims"`
	LayerCount int              `json:"layer_count"`
}

type inferenceModel struct {
	Format     string           `json:"format"`
	Inputs     []tensorManifest `json:"inputs"`
	Outputs    []tensorManifest `json:"outputs"`
	Activation string           `json:"activation"`
	Dims       []int            `json:"dims"`
	Layers     []layerState     `json:"layers"`
}

func layerFile(i int) string {
	return path.Join("variables", fmt.Sprintf("layer_%d.json", i))
}

func (p *Policy) layerStates() []layerState {
	out := make([]layerState, p.net.layers())
	for l := range out {
		rows, cols := p.net.weights[l].Dims()
		kernel := make([][]float64, rows)
		for r := 0; r < rows; r++ {
			kernel[r] = make([]float64, cols)
			for c := 0; c < cols; c++ {
				kernel[r][c] = p.net.weights[l].At(r, c)
			}
		}
		bias := make([]float64, p.net.biases[l].Len())
		for i := range bias {
			bias[i] = p.net.biases[l].AtVec(i)
		}
		out[l] = layerState{Kernel: kernel, Bias: bias}
	}
	return out
}

func (p *Policy) setLayerStates(layers []layerState) error {
	if len(layers) != p.net.layers() {
		return svcerr.InvalidArgument("checkpoint has %d layers, network has %d", len(layers), p.net.layers())
	}
	for l, state := range layers {
		rows, cols := p.net.weights[l].Dims()
		if len(state.Kernel) != rows || len(state.Bias) != rows {
			return svcerr.InvalidArgument("layer %d shape mismatch", l)
		}
		for r := 0; r < rows; r++ {
			if len(state.Kernel[r]) != cols {
				return svcerr.InvalidArgument("layer %d shape mismatch", l)
			}
			for c := 0; c < cols; c++ {
				p.net.weights[l].Set(r, c, state.Kernel[r][c])
			}
		}
		for i, v := range state.Bias {
			p.net.biases[l].SetVec(i, v)
		}
	}
	return nil
}

// SaveCheckpoint persists weights and training counters under the
// bound checkpoint path.
func (p *Policy) SaveCheckpoint() error {
	if p.checkpointPath == "" {
		return svcerr.FailedPrecondition("policy has no checkpoint path")
	}
	state := checkpointState{
		Format:            checkpointFormat,
		Hyperparameters:   p.h,
		Dims:              p.net.dims,
		Batches:           p.batches,
		ExamplesCompleted: p.examplesCompleted,
		LastDemoMicros:    p.lastDemoMicros,
		Layers:            p.layerStates(),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return svcerr.Internal("marshalling checkpoint: %v", err)
	}
	return p.files.Write(path.Join(p.checkpointPath, checkpointFile), data)
}

func (p *Policy) loadCheckpoint(file string) error {
	data, err := p.files.Read(file)
	if err != nil {
		return err
	}
	var state checkpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return svcerr.Internal("parsing checkpoint %s: %v", file, err)
	}
	if state.Format != checkpointFormat {
		return svcerr.InvalidArgument("checkpoint %s has format %q", file, state.Format)
	}
	if err := p.setLayerStates(state.Layers); err != nil {
		return err
	}
	p.batches = state.Batches
	p.examplesCompleted = state.ExamplesCompleted
	p.lastDemoMicros = state.LastDemoMicros
	return nil
}

func (p *Policy) manifest() modelManifest {
	m := modelManifest{
		Format:     savedModelFormat,
		Activation: p.h.ActivationFn,
		Dims:       p.net.dims,
		LayerCount: p.net.layers(),
	}
	for _, ts := range p.spec.ObservationTensorSpecs() {
		m.Inputs = append(m.Inputs, tensorManifest{Name: ts.Name, Shape: ts.Shape, Dtype: string(ts.Dtype)})
	}
	for _, h := range p.net.heads {
		m.Outputs = append(m.Outputs, tensorManifest{Name: h.name, Shape: []int{h.outLen}, Dtype: "float32"})
	}
	return m
}

// ExportSavedModel writes the bundle: a manifest naming the input and
// output tensors plus one variables file per layer.
func (p *Policy) ExportSavedModel(dir string) error {
	manifest, err := json.Marshal(p.manifest())
	if err != nil {
		return svcerr.Internal("marshalling manifest: %v", err)
	}
	if err := p.files.Write(path.Join(dir, manifestFile), manifest); err != nil {
		return err
	}
	for i, state := range p.layerStates() {
		data, err := json.Marshal(state)
		if err != nil {
			return svcerr.Internal("marshalling layer %d: %v", i, err)
		}
		if err := p.files.Write(path.Join(dir, layerFile(i)), data); err != nil {
			return err
		}
	}
	return nil
}

// ConvertForInference flattens a saved-model bundle into the single
// client file, keeping the manifest's tensor names intact.
func (p *Policy) ConvertForInference(inDir, outFile string) error {
	data, err := p.files.Read(path.Join(inDir, manifestFile))
	if err != nil {
		return err
	}
	var manifest modelManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return svcerr.Internal("parsing manifest in %s: %v", inDir, err)
	}
	if manifest.Format != savedModelFormat {
		return svcerr.InvalidArgument("bundle %s has format %q", inDir, manifest.Format)
	}

	model := inferenceModel{
		Format:     inferenceFormat,
		Inputs:     manifest.Inputs,
		Outputs:    manifest.Outputs,
		Activation: manifest.Activation,
		Dims:       manifest.Dims,
		Layers:     make([]layerState, manifest.LayerCount),
	}
	for i := 0; i < manifest.LayerCount; i++ {
		data, err := p.files.Read(path.Join(inDir, layerFile(i)))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &model.Layers[i]); err != nil {
			return svcerr.Internal("parsing layer %d in %s: %v", i, inDir, err)
		}
	}
	out, err := json.Marshal(model)
	if err != nil {
		return svcerr.Internal("marshalling inference model: %v", err)
	}
	return p.files.Write(outFile, out)
}

type trainingStatus struct {
	Batches           int64   `json:"batches"`
	ExamplesCompleted int64   `json:"examples_completed"`
	Loss              float64 `json:"loss"`
	LastDemoMicros    int64   `json:"last_demo_micros"`
}

func (p *Policy) writeSummary(loss float64) error {
	if p.summaryPath == "" {
		return nil
	}
	data, err := json.Marshal(trainingStatus{
		Batches:           p.batches,
		ExamplesCompleted: p.examplesCompleted,
		Loss:              loss,
		LastDemoMicros:    p.lastDemoMicros,
	})
	if err != nil {
		return svcerr.Internal("marshalling training status: %v", err)
	}
	return p.files.Write(path.Join(p.summaryPath, "training_status.json"), data)
}
