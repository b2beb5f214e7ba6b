// Package features stores the per-item numeric feature matrix used by
// the content model, standardized to zero mean and unit variance per
// column.
//
// The standardization parameters are fit once, at load time, over the
// full feature matrix. Per-item updates afterwards reuse the fitted
// scaler and never refit it, so a vector standardized today is directly
// comparable to one standardized next week.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Sentinel kinds for feature-store errors.
var (
	// ErrUnknownItem rejects updates for item ids with no assigned
	// index. Items must be registered through an interaction or a
	// bulk load before their features can change.
	ErrUnknownItem = errors.New("unknown item")
	// ErrDimensionMismatch rejects vectors of unexpected width. The
	// item keeps its previous (or zero) vector.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	// ErrNotFitted rejects transform-only updates before any Load.
	ErrNotFitted = errors.New("feature scaler not fitted")
)

const stdEpsilon = 1e-8

// Lookup resolves item ids to dense indices without creating them.
// Satisfied by *index.Index.
type Lookup interface {
	LookupItem(id string) (int, bool)
	Items() int
}

// Store holds the standardized feature matrix, one row per item index.
type Store struct {
	idx Lookup

	columns []string // fixed column order from the initial fit
	mean    []float64
	std     []float64
	matrix  *mat.Dense
	fitted  bool
}

// New creates an empty store bound to an item index.
func New(idx Lookup) *Store {
	return &Store{idx: idx}
}

// Load fits the per-column scaler over the provided raw features,
// transforms them, and stores the result. The column order is the
// sorted union of all feature keys seen in this call. Items that are
// registered in the index but absent from byItem keep a zero vector.
// Non-numeric values never reach this point; the catalog source filters
// them.
func (s *Store) Load(byItem map[string]map[string]float64) {
	cols := map[string]struct{}{}
	for _, feats := range byItem {
		for k := range feats {
			cols[k] = struct{}{}
		}
	}
	s.columns = make([]string, 0, len(cols))
	for k := range cols {
		s.columns = append(s.columns, k)
	}
	sort.Strings(s.columns)

	nItems := s.idx.Items()
	dim := len(s.columns)
	raw := mat.NewDense(max(nItems, 1), max(dim, 1), nil)

	type placed struct {
		row  int
		vals []float64
	}
	var rows []placed
	for id, feats := range byItem {
		itemIdx, ok := s.idx.LookupItem(id)
		if !ok {
			continue
		}
		vals := make([]float64, dim)
		for j, col := range s.columns {
			vals[j] = feats[col]
		}
		rows = append(rows, placed{row: itemIdx, vals: vals})
	}

	// Fit mean/std over the items that actually carry features, then
	// transform. Items without features stay at the zero vector in
	// standardized space.
	s.mean = make([]float64, dim)
	s.std = make([]float64, dim)
	if len(rows) > 0 {
		for _, r := range rows {
			for j, v := range r.vals {
				s.mean[j] += v
			}
		}
		for j := range s.mean {
			s.mean[j] /= float64(len(rows))
		}
		for _, r := range rows {
			for j, v := range r.vals {
				d := v - s.mean[j]
				s.std[j] += d * d
			}
		}
		for j := range s.std {
			s.std[j] = math.Sqrt(s.std[j] / float64(len(rows)))
		}
	}

	for _, r := range rows {
		for j, v := range r.vals {
			raw.Set(r.row, j, s.transformOne(j, v))
		}
	}
	s.matrix = raw
	s.fitted = true
}

// Update applies the already-fitted scaler to a partial feature update
// for one item. Keys outside the fitted column set are rejected; missing
// keys keep the item's current standardized value.
func (s *Store) Update(itemID string, rawFeatures map[string]float64) error {
	if !s.fitted {
		return ErrNotFitted
	}
	itemIdx, ok := s.idx.LookupItem(itemID)
	if !ok {
		return fmt.Errorf("update features for %q: %w", itemID, ErrUnknownItem)
	}
	for k := range rawFeatures {
		if !s.hasColumn(k) {
			return fmt.Errorf("update features for %q: column %q: %w", itemID, k, ErrDimensionMismatch)
		}
	}
	s.ensureRows(itemIdx + 1)
	for j, col := range s.columns {
		if v, ok := rawFeatures[col]; ok {
			s.matrix.Set(itemIdx, j, s.transformOne(j, v))
		}
	}
	return nil
}

// Vector returns the standardized feature vector for an item, or false
// when the item is unknown or no features were ever loaded.
func (s *Store) Vector(itemID string) ([]float64, bool) {
	if !s.fitted {
		return nil, false
	}
	itemIdx, ok := s.idx.LookupItem(itemID)
	if !ok {
		return nil, false
	}
	s.ensureRows(itemIdx + 1)
	return mat.Row(nil, itemIdx, s.matrix), true
}

// Matrix returns the standardized feature matrix sized to the current
// item count, growing with zero rows as new items appear.
func (s *Store) Matrix() *mat.Dense {
	if !s.fitted {
		return nil
	}
	s.ensureRows(s.idx.Items())
	return s.matrix
}

// Dim returns the fitted feature width.
func (s *Store) Dim() int { return len(s.columns) }

// Fitted reports whether Load has run.
func (s *Store) Fitted() bool { return s.fitted }

// ScalerSnapshot exposes the fitted columns and moments for persistence.
func (s *Store) ScalerSnapshot() (columns []string, mean, std []float64) {
	return append([]string(nil), s.columns...),
		append([]float64(nil), s.mean...),
		append([]float64(nil), s.std...)
}

// RestoreScaler reinstates a persisted scaler without refitting. The
// matrix restarts at zero vectors; callers reload features afterwards.
func (s *Store) RestoreScaler(columns []string, mean, std []float64) {
	s.columns = append([]string(nil), columns...)
	s.mean = append([]float64(nil), mean...)
	s.std = append([]float64(nil), std...)
	s.matrix = mat.NewDense(max(s.idx.Items(), 1), max(len(columns), 1), nil)
	s.fitted = true
}

func (s *Store) transformOne(col int, v float64) float64 {
	return (v - s.mean[col]) / (s.std[col] + stdEpsilon)
}

func (s *Store) hasColumn(name string) bool {
	for _, c := range s.columns {
		if c == name {
			return true
		}
	}
	return false
}

func (s *Store) ensureRows(n int) {
	r, c := s.matrix.Dims()
	if n <= r {
		return
	}
	grown := mat.NewDense(n, c, nil)
	grown.Slice(0, r, 0, c).(*mat.Dense).Copy(s.matrix)
	s.matrix = grown
}
