// Package interactions holds the in-memory interaction table and the
// per-user positive/negative item sets derived from it.
//
// The store keeps exactly one row per (user, item) pair; repeated writes
// for the same pair overwrite the stored rating (last write wins). The
// store is not internally locked: the engine serializes mutations behind
// its writer lock together with the entity index and model parameters.
package interactions

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/encore/internal/domain/index"
	"github.com/okian/encore/internal/domain/model"
)

// Rating thresholds for the derived preference sets. An item sits in at
// most one of the two sets; ratings strictly between the thresholds
// place it in neither.
const (
	PositiveThreshold = 0.6
	NegativeThreshold = 0.3
)

// ErrInvalidRating rejects ratings that are not finite or fall outside
// [0,1]. Out-of-range ratings are a caller contract violation, not
// silently clamped.
var ErrInvalidRating = errors.New("rating must be finite and in [0,1]")

// Triple is one training sample addressed by dense indices.
type Triple struct {
	UserIdx int
	ItemIdx int
	Rating  float64
}

type row struct {
	userIdx int
	itemIdx int
	rating  float64
	ts      time.Time
}

// Store is the in-memory interaction table.
type Store struct {
	idx *index.Index

	rows    []row
	byPair  map[[2]int]int // (userIdx, itemIdx) -> position in rows
	byUser  map[int][]int  // userIdx -> positions in rows, insertion order
	byItem  map[int]int    // itemIdx -> interaction count (popularity proxy)
	posSets map[int]map[int]struct{}
	negSets map[int]map[int]struct{}
}

// New creates an empty store bound to the given entity index.
func New(idx *index.Index) *Store {
	return &Store{
		idx:     idx,
		byPair:  make(map[[2]int]int),
		byUser:  make(map[int][]int),
		byItem:  make(map[int]int),
		posSets: make(map[int]map[int]struct{}),
		negSets: make(map[int]map[int]struct{}),
	}
}

// LoadBulk replaces the entire interaction table. New identifiers are
// merged into the entity index; the positive/negative sets are rebuilt
// from scratch. Rows with invalid ratings are skipped.
func (s *Store) LoadBulk(rows []model.Interaction) {
	s.rows = s.rows[:0]
	s.byPair = make(map[[2]int]int, len(rows))
	s.byUser = make(map[int][]int)
	s.byItem = make(map[int]int)
	s.posSets = make(map[int]map[int]struct{})
	s.negSets = make(map[int]map[int]struct{})

	for _, r := range rows {
		if !validRating(r.Rating) {
			continue
		}
		s.put(s.idx.UserIndex(r.UserID), s.idx.ItemIndex(r.ItemID), r.Rating, r.Timestamp)
	}
}

// Upsert inserts or updates a single row and returns the dense indices
// involved. The preference sets are adjusted incrementally; a rating
// that flips categorization removes the item from the opposite set.
func (s *Store) Upsert(userID, itemID string, rating float64) (userIdx, itemIdx int, err error) {
	if !validRating(rating) {
		return 0, 0, fmt.Errorf("upsert %s/%s: %w", userID, itemID, ErrInvalidRating)
	}
	userIdx = s.idx.UserIndex(userID)
	itemIdx = s.idx.ItemIndex(itemID)
	s.put(userIdx, itemIdx, rating, time.Now())
	return userIdx, itemIdx, nil
}

func (s *Store) put(userIdx, itemIdx int, rating float64, ts time.Time) {
	key := [2]int{userIdx, itemIdx}
	if pos, ok := s.byPair[key]; ok {
		s.rows[pos].rating = rating
		s.rows[pos].ts = ts
	} else {
		s.byPair[key] = len(s.rows)
		s.rows = append(s.rows, row{userIdx: userIdx, itemIdx: itemIdx, rating: rating, ts: ts})
		s.byUser[userIdx] = append(s.byUser[userIdx], s.byPair[key])
		s.byItem[itemIdx]++
	}
	s.categorize(userIdx, itemIdx, rating)
}

func (s *Store) categorize(userIdx, itemIdx int, rating float64) {
	switch {
	case rating >= PositiveThreshold:
		addTo(s.posSets, userIdx, itemIdx)
		removeFrom(s.negSets, userIdx, itemIdx)
	case rating <= NegativeThreshold:
		addTo(s.negSets, userIdx, itemIdx)
		removeFrom(s.posSets, userIdx, itemIdx)
	default:
		removeFrom(s.posSets, userIdx, itemIdx)
		removeFrom(s.negSets, userIdx, itemIdx)
	}
}

func addTo(sets map[int]map[int]struct{}, userIdx, itemIdx int) {
	set, ok := sets[userIdx]
	if !ok {
		set = make(map[int]struct{})
		sets[userIdx] = set
	}
	set[itemIdx] = struct{}{}
}

func removeFrom(sets map[int]map[int]struct{}, userIdx, itemIdx int) {
	if set, ok := sets[userIdx]; ok {
		delete(set, itemIdx)
	}
}

// History returns the user's interactions as (item index, rating) pairs
// in first-interaction order. The order is stable for a given store
// snapshot.
func (s *Store) History(userID string) []model.RatedItem {
	userIdx, ok := s.idx.LookupUser(userID)
	if !ok {
		return nil
	}
	return s.HistoryByIndex(userIdx)
}

// HistoryByIndex is History addressed by dense user index.
func (s *Store) HistoryByIndex(userIdx int) []model.RatedItem {
	positions := s.byUser[userIdx]
	out := make([]model.RatedItem, 0, len(positions))
	for _, p := range positions {
		out = append(out, model.RatedItem{ItemIdx: s.rows[p].itemIdx, Rating: s.rows[p].rating})
	}
	return out
}

// RecentItems returns up to n of the user's most recently written item
// indices, newest first. Used by the cold-start genre seeding.
func (s *Store) RecentItems(userID string, n int) []int {
	userIdx, ok := s.idx.LookupUser(userID)
	if !ok {
		return nil
	}
	positions := s.byUser[userIdx]
	type stamped struct {
		itemIdx int
		ts      time.Time
	}
	recent := make([]stamped, 0, len(positions))
	for _, p := range positions {
		recent = append(recent, stamped{itemIdx: s.rows[p].itemIdx, ts: s.rows[p].ts})
	}
	// Insertion order approximates recency except for overwrites, so
	// sort on the write timestamp.
	for i := 1; i < len(recent); i++ {
		for j := i; j > 0 && recent[j].ts.After(recent[j-1].ts); j-- {
			recent[j], recent[j-1] = recent[j-1], recent[j]
		}
	}
	if n > len(recent) {
		n = len(recent)
	}
	out := make([]int, 0, n)
	for _, r := range recent[:n] {
		out = append(out, r.itemIdx)
	}
	return out
}

// HistoryItems returns the set of item indices the user has interacted
// with. The map is freshly allocated and safe to mutate.
func (s *Store) HistoryItems(userID string) map[int]struct{} {
	userIdx, ok := s.idx.LookupUser(userID)
	if !ok {
		return map[int]struct{}{}
	}
	positions := s.byUser[userIdx]
	out := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		out[s.rows[p].itemIdx] = struct{}{}
	}
	return out
}

// Count returns the number of stored rows.
func (s *Store) Count() int { return len(s.rows) }

// CountForUser returns the number of rows for one user.
func (s *Store) CountForUser(userID string) int {
	userIdx, ok := s.idx.LookupUser(userID)
	if !ok {
		return 0
	}
	return len(s.byUser[userIdx])
}

// ItemInteractionCount returns how many users interacted with an item.
func (s *Store) ItemInteractionCount(itemIdx int) int { return s.byItem[itemIdx] }

// PositiveSet returns the user's positive item set. The returned map is
// the live set; callers must not mutate it.
func (s *Store) PositiveSet(userIdx int) map[int]struct{} { return s.posSets[userIdx] }

// NegativeSet returns the user's negative item set.
func (s *Store) NegativeSet(userIdx int) map[int]struct{} { return s.negSets[userIdx] }

// Rating returns the stored rating for a pair, if any.
func (s *Store) Rating(userIdx, itemIdx int) (float64, bool) {
	pos, ok := s.byPair[[2]int{userIdx, itemIdx}]
	if !ok {
		return 0, false
	}
	return s.rows[pos].rating, true
}

// TrainingTriples returns every stored row as a training sample.
func (s *Store) TrainingTriples() []Triple {
	out := make([]Triple, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, Triple{UserIdx: r.userIdx, ItemIdx: r.itemIdx, Rating: r.rating})
	}
	return out
}

func validRating(r float64) bool {
	return !math.IsNaN(r) && !math.IsInf(r, 0) && r >= 0 && r <= 1
}
