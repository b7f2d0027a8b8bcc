package selection

import (
	"sort"

	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

// ModelScore is one model's offline score.
type ModelScore struct {
	ModelID string
	Score   float64
}

// EvalEntry pairs a score with the eval version it was measured on.
type EvalEntry struct {
	EvalID int
	Score  ModelScore
}

// EvaluationSummary collects everything known about one model.
type EvaluationSummary struct {
	ModelID       string
	OfflineScores map[int]float64
	OnlineScores  []float64
}

// ModelSelector aggregates evaluations across assignments so serving
// can pick models by offline or online merit.
type ModelSelector struct {
	// assignment -> eval version -> scores ascending
	offline map[string]map[int][]ModelScore
	// assignment -> model -> summary
	summaries map[string]map[string]*EvaluationSummary
	// model -> assignment, learned from offline evaluations
	assignmentOf map[string]string
}

func NewModelSelector() *ModelSelector {
	return &ModelSelector{
		offline:      map[string]map[int][]ModelScore{},
		summaries:    map[string]map[string]*EvaluationSummary{},
		assignmentOf: map[string]string{},
	}
}

// AddOfflineEvaluation indexes one stored offline evaluation.
func (s *ModelSelector) AddOfflineEvaluation(eval *domain.OfflineEvaluation) {
	byVersion, ok := s.offline[eval.AssignmentID]
	if !ok {
		byVersion = map[int][]ModelScore{}
		s.offline[eval.AssignmentID] = byVersion
	}
	scores := append(byVersion[eval.EvalSetVersion], ModelScore{ModelID: eval.ModelID, Score: eval.Score})
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score < scores[j].Score
		}
		return scores[i].ModelID < scores[j].ModelID
	})
	byVersion[eval.EvalSetVersion] = scores

	s.assignmentOf[eval.ModelID] = eval.AssignmentID
	s.summary(eval.AssignmentID, eval.ModelID).OfflineScores[eval.EvalSetVersion] = eval.Score
}

// AddOnlineEvaluation attaches deployment feedback to the model's
// summary. Evaluations for models with no offline record are dropped.
func (s *ModelSelector) AddOnlineEvaluation(eval *domain.OnlineEvaluation) {
	assignment, ok := s.assignmentOf[eval.ModelID]
	if !ok {
		return
	}
	sum := s.summary(assignment, eval.ModelID)
	sum.OnlineScores = append(sum.OnlineScores, eval.SuccessRate())
}

func (s *ModelSelector) summary(assignmentID, modelID string) *EvaluationSummary {
	byModel, ok := s.summaries[assignmentID]
	if !ok {
		byModel = map[string]*EvaluationSummary{}
		s.summaries[assignmentID] = byModel
	}
	sum, ok := byModel[modelID]
	if !ok {
		sum = &EvaluationSummary{ModelID: modelID, OfflineScores: map[int]float64{}}
		byModel[modelID] = sum
	}
	return sum
}

// ScoresByOfflineEvaluationId flattens scores sorted by descending
// eval version, then ascending score. assignmentID "" spans all
// assignments; modelsLimit > 0 keeps entries for the first that many
// distinct models.
func (s *ModelSelector) ScoresByOfflineEvaluationId(assignmentID string, modelsLimit int) []EvalEntry {
	var entries []EvalEntry
	for assignment, byVersion := range s.offline {
		if assignmentID != "" && assignment != assignmentID {
			continue
		}
		for version, scores := range byVersion {
			for _, score := range scores {
				entries = append(entries, EvalEntry{EvalID: version, Score: score})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EvalID != entries[j].EvalID {
			return entries[i].EvalID > entries[j].EvalID
		}
		if entries[i].Score.Score != entries[j].Score.Score {
			return entries[i].Score.Score < entries[j].Score.Score
		}
		return entries[i].Score.ModelID < entries[j].Score.ModelID
	})

	if modelsLimit <= 0 {
		return entries
	}
	seen := map[string]bool{}
	var out []EvalEntry
	for _, e := range entries {
		if !seen[e.Score.ModelID] {
			if len(seen) == modelsLimit {
				continue
			}
			seen[e.Score.ModelID] = true
		}
		out = append(out, e)
	}
	return out
}

// SummaryMap returns per-assignment summaries with models in
// ascending id order.
func (s *ModelSelector) SummaryMap() map[string][]EvaluationSummary {
	out := make(map[string][]EvaluationSummary, len(s.summaries))
	for assignment, byModel := range s.summaries {
		models := make([]string, 0, len(byModel))
		for id := range byModel {
			models = append(models, id)
		}
		sort.Strings(models)
		list := make([]EvaluationSummary, 0, len(models))
		for _, id := range models {
			list = append(list, *byModel[id])
		}
		out[assignment] = list
	}
	return out
}

// OnlineRecord is one model's deployment tally for sampling.
type OnlineRecord struct {
	ModelID   string
	Successes int64
	Failures  int64
}

func (r OnlineRecord) Total() int64 { return r.Successes + r.Failures }

func (r OnlineRecord) SuccessRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Total())
}

// UniformSampling spreads trials evenly: the least-tried model goes
// next.
type UniformSampling struct{}

func (UniformSampling) SelectNext(records []OnlineRecord) (OnlineRecord, error) {
	if len(records) == 0 {
		return OnlineRecord{}, svcerr.InvalidArgument("no online records to sample")
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Total() < best.Total() {
			best = r
		}
	}
	return best, nil
}

// HighestAverageSelection exploits: the model with the best observed
// success rate wins.
type HighestAverageSelection struct{}

func (HighestAverageSelection) SelectBest(records []OnlineRecord) (OnlineRecord, error) {
	if len(records) == 0 {
		return OnlineRecord{}, svcerr.InvalidArgument("no online records to select from")
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.SuccessRate() > best.SuccessRate() {
			best = r
		}
	}
	return best, nil
}

// UCBSampling would balance exploration and exploitation by upper
// confidence bound.
type UCBSampling struct{}

func (UCBSampling) SelectNext(records []OnlineRecord) (OnlineRecord, error) {
	return OnlineRecord{}, svcerr.NotImplemented("UCB sampling")
}
