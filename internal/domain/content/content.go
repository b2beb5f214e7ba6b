// Package content scores items against each other by cosine similarity
// of their standardized feature vectors.
//
// The similarity matrix S is symmetric with a forced zero diagonal, so
// an item never recommends itself through content alone. Rebuilding S
// is O(nItems² · featureDim) and happens only when feature vectors
// change, which is amortized against bulk feature loads rather than
// paid per request.
package content

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/encore/internal/domain/model"
)

// ErrNotBuilt is returned when similarity queries run before Rebuild.
var ErrNotBuilt = errors.New("similarity matrix not built")

const normEpsilon = 1e-8

// Model holds the pairwise item similarity matrix.
type Model struct {
	similarity *mat.Dense
	nItems     int
}

// New creates an empty content model.
func New() *Model {
	return &Model{}
}

// Rebuild recomputes the full similarity matrix from a standardized
// feature matrix, one row per item index. Rows are L2-normalized with
// an epsilon-stabilized norm before the cosine products.
func (m *Model) Rebuild(features *mat.Dense) {
	if features == nil {
		m.similarity = nil
		m.nItems = 0
		return
	}
	n, d := features.Dims()

	normalized := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row := mat.Row(nil, i, features)
		norm := 0.0
		for _, v := range row {
			norm += v * v
		}
		norm = math.Sqrt(norm) + normEpsilon
		for j, v := range row {
			normalized.Set(i, j, v/norm)
		}
	}

	sim := mat.NewDense(n, n, nil)
	sim.Mul(normalized, normalized.T())
	for i := 0; i < n; i++ {
		sim.Set(i, i, 0)
	}
	m.similarity = sim
	m.nItems = n
}

// Built reports whether a similarity matrix is available.
func (m *Model) Built() bool { return m.similarity != nil }

// Items returns the item count the matrix was built for.
func (m *Model) Items() int { return m.nItems }

// Similarity returns S[i][j].
func (m *Model) Similarity(i, j int) float64 {
	if m.similarity == nil || i >= m.nItems || j >= m.nItems || i < 0 || j < 0 {
		return 0
	}
	return m.similarity.At(i, j)
}

// SimilarItems returns the top-n items by similarity to itemIdx, score
// descending with ties broken by lower item index for determinism.
func (m *Model) SimilarItems(itemIdx, n int) ([]model.RatedItem, error) {
	if m.similarity == nil {
		return nil, ErrNotBuilt
	}
	if itemIdx < 0 || itemIdx >= m.nItems {
		return nil, fmt.Errorf("item index %d out of range [0,%d)", itemIdx, m.nItems)
	}
	scores := mat.Row(nil, itemIdx, m.similarity)
	order := make([]int, 0, len(scores)-1)
	for i := range scores {
		if i != itemIdx {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	if n > len(order) {
		n = len(order)
	}
	out := make([]model.RatedItem, 0, n)
	for _, idx := range order[:n] {
		out = append(out, model.RatedItem{ItemIdx: idx, Rating: scores[idx]})
	}
	return out, nil
}

// ScoreCandidates produces a per-item score vector from a user's rated
// history: each history entry contributes rating · S[item] and the sum
// is divided by Σ|rating|. A history with zero total weight yields the
// zero vector rather than a division error.
func (m *Model) ScoreCandidates(history []model.RatedItem) []float64 {
	scores := make([]float64, m.nItems)
	if m.similarity == nil {
		return scores
	}
	totalWeight := 0.0
	for _, h := range history {
		if h.ItemIdx < 0 || h.ItemIdx >= m.nItems {
			continue
		}
		row := mat.Row(nil, h.ItemIdx, m.similarity)
		for i, s := range row {
			scores[i] += h.Rating * s
		}
		totalWeight += math.Abs(h.Rating)
	}
	if totalWeight > 0 {
		for i := range scores {
			scores[i] /= totalWeight
		}
	}
	return scores
}
