// Package selection decides which trained models matter: per
// assignment, which model is best and when training has stopped
// paying off; across assignments, which model to serve or sample next.
package selection

import (
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

// ImprovementEpsilon is the offline-score margin a model must clear to
// count as an improvement over the current best.
const ImprovementEpsilon = 0.05

// Stop reasons returned by ShouldStop.
const (
	StopNoEvalSet     = "too many models without an eval set"
	StopNoImprovement = "too many models without improvement"
)

const (
	maxModelsWithoutEvalSet     = 10
	maxModelsWithoutImprovement = 3
)

// EvalScore is one model's offline score on one eval version.
type EvalScore struct {
	Version int
	Score   float64
}

// ModelManager tracks the best model of one assignment. Lower scores
// are better; a score on a newer eval version always beats any score
// on an older one.
type ModelManager struct {
	bestModelID string
	bestVersion int
	hasBest     bool
	bestScore   float64

	modelsRecorded           int
	modelsWithoutImprovement int
}

func NewModelManager() *ModelManager {
	return &ModelManager{}
}

// RecordNewModel folds one trained model's evaluations in. fullEval is
// ordered by ascending version; the newest entry decides.
func (m *ModelManager) RecordNewModel(modelID string, fullEval []EvalScore) error {
	m.modelsRecorded++

	if !m.hasBest {
		// Without a prior eval set the newest model wins outright.
		m.bestModelID = modelID
		m.modelsWithoutImprovement = 0
		if len(fullEval) > 0 {
			latest := fullEval[len(fullEval)-1]
			m.bestVersion = latest.Version
			m.bestScore = latest.Score
			m.hasBest = true
		}
		return nil
	}

	if len(fullEval) == 0 {
		return svcerr.Internal(
			"model %s has no evaluations but assignment has eval version %d",
			modelID, m.bestVersion)
	}
	latest := fullEval[len(fullEval)-1]
	if latest.Version < m.bestVersion {
		return svcerr.Internal(
			"model %s evaluated on version %d, behind best version %d",
			modelID, latest.Version, m.bestVersion)
	}

	if latest.Version > m.bestVersion {
		// Newer data wins regardless of score.
		m.bestModelID = modelID
		m.bestVersion = latest.Version
		m.bestScore = latest.Score
		m.modelsWithoutImprovement = 0
		return nil
	}

	switch {
	case m.bestScore-latest.Score > ImprovementEpsilon:
		m.bestModelID = modelID
		m.bestScore = latest.Score
		m.modelsWithoutImprovement = 0
	case latest.Score < m.bestScore:
		// Better but within epsilon: keep it, without crediting
		// progress or counting stagnation.
		m.bestModelID = modelID
		m.bestScore = latest.Score
	default:
		m.modelsWithoutImprovement++
	}
	return nil
}

// ShouldStop reports why training should end, or "" to continue.
func (m *ModelManager) ShouldStop() string {
	if !m.hasBest && m.modelsRecorded > maxModelsWithoutEvalSet {
		return StopNoEvalSet
	}
	if m.modelsWithoutImprovement > maxModelsWithoutImprovement {
		return StopNoImprovement
	}
	return ""
}

// BestModelID returns the current best model, or "".
func (m *ModelManager) BestModelID() string { return m.bestModelID }

// BestScore returns the best model's score and eval version; ok is
// false while no eval set exists.
func (m *ModelManager) BestScore() (score float64, version int, ok bool) {
	return m.bestScore, m.bestVersion, m.hasBest
}

// ModelsRecorded returns how many models have been folded in.
func (m *ModelManager) ModelsRecorded() int { return m.modelsRecorded }

// ModelsWithoutImprovement returns the stagnation counter.
func (m *ModelManager) ModelsWithoutImprovement() int { return m.modelsWithoutImprovement }
