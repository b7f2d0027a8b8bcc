package trainer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

// Hyperparameters configure one trainer. The canonical JSON form of a
// validated value doubles as the assignment id for the session, so two
// requests with equivalent settings land on the same assignment.
type Hyperparameters struct {
	FCLayers                []int     `json:"fc_layers"`
	Dropout                 []float64 `json:"dropout"`
	ActivationFn            string    `json:"activation_fn"`
	Initializer             string    `json:"initializer"`
	FeelersVersion          string    `json:"feelers_version"`
	FeelersV2OutputChannels int       `json:"feelers_v2_output_channels"`
	FeelersV2KernelSize     int       `json:"feelers_v2_kernel_size"`
	BatchSize               int       `json:"batch_size"`
	SaveIntervalBatches     int       `json:"save_interval_batches"`
	SynchronousExport       bool      `json:"synchronous_export"`
	Continuous              bool      `json:"continuous"`
}

// Defaults returns the defaulted hyperparameters.
func Defaults() Hyperparameters {
	return Hyperparameters{
		FCLayers:                []int{32},
		Dropout:                 nil,
		ActivationFn:            "relu",
		Initializer:             "glorot_uniform",
		FeelersVersion:          "v1",
		FeelersV2OutputChannels: 3,
		FeelersV2KernelSize:     5,
		BatchSize:               500,
		SaveIntervalBatches:     100000,
		SynchronousExport:       false,
		Continuous:              true,
	}
}

// hyperparametersJSON is the accepted wire form. Dropout may be a
// number, null, or an array of numbers.
type hyperparametersJSON struct {
	FCLayers                *[]int          `json:"fc_layers"`
	Dropout                 json.RawMessage `json:"dropout"`
	ActivationFn            *string         `json:"activation_fn"`
	Initializer             *string         `json:"initializer"`
	FeelersVersion          *string         `json:"feelers_version"`
	FeelersV2OutputChannels *int            `json:"feelers_v2_output_channels"`
	FeelersV2KernelSize     *int            `json:"feelers_v2_kernel_size"`
	BatchSize               *int            `json:"batch_size"`
	SaveIntervalBatches     *int            `json:"save_interval_batches"`
	SynchronousExport       *bool           `json:"synchronous_export"`
	Continuous              *bool           `json:"continuous"`
}

// Parse decodes user-supplied hyperparameter JSON over the defaults
// and validates the result. Unknown fields are rejected.
func Parse(raw string) (Hyperparameters, error) {
	h := Defaults()
	if raw == "" {
		return h, nil
	}
	var in hyperparametersJSON
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return h, svcerr.InvalidArgument("parsing hyperparameters: %v", err)
	}
	if in.FCLayers != nil {
		h.FCLayers = *in.FCLayers
	}
	if len(in.Dropout) > 0 {
		dropout, err := parseDropout(in.Dropout)
		if err != nil {
			return h, err
		}
		h.Dropout = dropout
	}
	if in.ActivationFn != nil {
		h.ActivationFn = *in.ActivationFn
	}
	if in.Initializer != nil {
		h.Initializer = *in.Initializer
	}
	if in.FeelersVersion != nil {
		h.FeelersVersion = *in.FeelersVersion
	}
	if in.FeelersV2OutputChannels != nil {
		h.FeelersV2OutputChannels = *in.FeelersV2OutputChannels
	}
	if in.FeelersV2KernelSize != nil {
		h.FeelersV2KernelSize = *in.FeelersV2KernelSize
	}
	if in.BatchSize != nil {
		h.BatchSize = *in.BatchSize
	}
	if in.SaveIntervalBatches != nil {
		h.SaveIntervalBatches = *in.SaveIntervalBatches
	}
	if in.SynchronousExport != nil {
		h.SynchronousExport = *in.SynchronousExport
	}
	if in.Continuous != nil {
		h.Continuous = *in.Continuous
	}
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}

func parseDropout(raw json.RawMessage) ([]float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []float64
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, svcerr.InvalidArgument("parsing dropout: %v", err)
		}
		return list, nil
	}
	var single float64
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, svcerr.InvalidArgument("parsing dropout: %v", err)
	}
	return []float64{single}, nil
}

var activationFns = map[string]bool{"relu": true, "tanh": true, "sigmoid": true}

var initializers = map[string]bool{"glorot_uniform": true, "he_normal": true, "zeros": true}

func (h Hyperparameters) Validate() error {
	if len(h.FCLayers) == 0 {
		return svcerr.InvalidArgument("fc_layers must name at least one layer")
	}
	for i, w := range h.FCLayers {
		if w <= 0 {
			return svcerr.InvalidArgument("fc_layers[%d] must be positive, got %d", i, w)
		}
	}
	if n := len(h.Dropout); n != 0 && n != 1 && n != len(h.FCLayers) {
		return svcerr.InvalidArgument(
			"dropout must be null, a single rate, or one rate per fc layer; got %d rates for %d layers",
			n, len(h.FCLayers))
	}
	for i, p := range h.Dropout {
		if p < 0 || p >= 1 {
			return svcerr.InvalidArgument("dropout[%d] must be in [0, 1), got %v", i, p)
		}
	}
	if !activationFns[h.ActivationFn] {
		return svcerr.InvalidArgument("unknown activation_fn %q", h.ActivationFn)
	}
	if !initializers[h.Initializer] {
		return svcerr.InvalidArgument("unknown initializer %q", h.Initializer)
	}
	if h.FeelersVersion != "v1" && h.FeelersVersion != "v2" {
		return svcerr.InvalidArgument("feelers_version must be v1 or v2, got %q", h.FeelersVersion)
	}
	if h.FeelersV2OutputChannels <= 0 {
		return svcerr.InvalidArgument("feelers_v2_output_channels must be positive")
	}
	if h.FeelersV2KernelSize <= 0 {
		return svcerr.InvalidArgument("feelers_v2_kernel_size must be positive")
	}
	if h.BatchSize <= 0 {
		return svcerr.InvalidArgument("batch_size must be positive")
	}
	if h.SaveIntervalBatches <= 0 {
		return svcerr.InvalidArgument("save_interval_batches must be positive")
	}
	return nil
}

// Canonical serializes the value with every field present in a fixed
// order, so equivalent settings compare equal as strings.
func (h Hyperparameters) Canonical() string {
	data, err := json.Marshal(h)
	if err != nil {
		// Only plain scalars and slices are marshalled.
		panic(fmt.Sprintf("marshalling hyperparameters: %v", err))
	}
	return string(data)
}
