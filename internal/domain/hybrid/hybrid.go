// Package hybrid blends the latent interaction model's affinity with
// the content model's similarity score under two non-negative weights
// normalized to sum to 1.
package hybrid

import (
	"sort"

	"github.com/okian/encore/internal/domain/content"
	"github.com/okian/encore/internal/domain/model"
	"github.com/okian/encore/internal/domain/ncf"
)

// Default blend weights: behavioral signal leads.
const (
	DefaultCFWeight = 0.7
	DefaultCBWeight = 0.3
)

// Scored is one ranked candidate with its unweighted component scores,
// reported so the weighting is not baked irreversibly into the number a
// caller sees, only into the ranking order.
type Scored struct {
	ItemIdx       int
	Score         float64
	Collaborative float64
	ContentBased  float64
}

// Scorer combines the two signal sources.
type Scorer struct {
	latent   *ncf.Model
	content  *content.Model
	cfWeight float64
	cbWeight float64
}

// New creates a Scorer over the two models with normalized weights.
func New(latent *ncf.Model, contentModel *content.Model, cfWeight, cbWeight float64) *Scorer {
	s := &Scorer{latent: latent, content: contentModel}
	s.SetWeights(cfWeight, cbWeight)
	return s
}

// SetWeights stores the two weights normalized so they sum to 1.
// Non-positive sums fall back to the defaults.
func (s *Scorer) SetWeights(cfWeight, cbWeight float64) {
	total := cfWeight + cbWeight
	if total <= 0 {
		cfWeight, cbWeight, total = DefaultCFWeight, DefaultCBWeight, 1
	}
	s.cfWeight = cfWeight / total
	s.cbWeight = cbWeight / total
}

// Weights returns the normalized (cf, cb) pair.
func (s *Scorer) Weights() (cf, cb float64) { return s.cfWeight, s.cbWeight }

// Predict returns the weighted hybrid score for one pair.
func (s *Scorer) Predict(userIdx, itemIdx int, history []model.RatedItem) float64 {
	contentScores := s.content.ScoreCandidates(history)
	cb := 0.0
	if itemIdx >= 0 && itemIdx < len(contentScores) {
		cb = contentScores[itemIdx]
	}
	return s.cfWeight*s.latent.Predict(userIdx, itemIdx) + s.cbWeight*cb
}

// Recommend scores every unseen item for the user and returns the top n
// by weighted score, descending, with ties broken by ascending item
// index. The exclusion set is the caller-supplied set unioned with the
// user's own history unless includeLiked is set. This is a full scan;
// the target catalog scale makes O(nItems) scoring calls acceptable.
func (s *Scorer) Recommend(userIdx int, history []model.RatedItem, n int, exclude map[int]struct{}, includeLiked bool) []Scored {
	excluded := make(map[int]struct{}, len(exclude)+len(history))
	for idx := range exclude {
		excluded[idx] = struct{}{}
	}
	if !includeLiked {
		for _, h := range history {
			excluded[h.ItemIdx] = struct{}{}
		}
	}

	contentScores := s.content.ScoreCandidates(history)
	nItems := s.latent.Items()
	if s.content.Items() > nItems {
		nItems = s.content.Items()
	}

	candidates := make([]Scored, 0, nItems)
	for itemIdx := 0; itemIdx < nItems; itemIdx++ {
		if _, skip := excluded[itemIdx]; skip {
			continue
		}
		cf := s.latent.Predict(userIdx, itemIdx)
		cb := 0.0
		if itemIdx < len(contentScores) {
			cb = contentScores[itemIdx]
		}
		candidates = append(candidates, Scored{
			ItemIdx:       itemIdx,
			Score:         s.cfWeight*cf + s.cbWeight*cb,
			Collaborative: cf,
			ContentBased:  cb,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].ItemIdx < candidates[b].ItemIdx
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}
