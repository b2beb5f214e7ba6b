// Package index maintains the bidirectional mapping between external
// user/song identifiers and the dense zero-based indices used by the
// numeric models.
//
// The index is the single source of truth for identifier assignment:
// every other component addresses users and items exclusively through
// the indices handed out here. Index assignment is monotonic and an
// index, once assigned, is never reused or deleted.
//
// The index is not internally locked. The engine serializes all
// mutations behind its writer lock together with the interaction store
// and model parameters, because an index allocation must be atomic with
// respect to reads that dereference the same indices.
package index

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a reverse lookup references an index
// that was never assigned.
var ErrNotFound = errors.New("identifier not found")

// Index maps external IDs to dense indices and back, for users and
// items independently.
type Index struct {
	userToIdx map[string]int
	itemToIdx map[string]int
	idxToUser []string
	idxToItem []string
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		userToIdx: make(map[string]int),
		itemToIdx: make(map[string]int),
	}
}

// UserIndex returns the dense index for a user id, assigning the next
// free index if the id is unseen. This is an upsert; it cannot fail.
func (x *Index) UserIndex(id string) int {
	if idx, ok := x.userToIdx[id]; ok {
		return idx
	}
	idx := len(x.idxToUser)
	x.userToIdx[id] = idx
	x.idxToUser = append(x.idxToUser, id)
	return idx
}

// ItemIndex returns the dense index for an item id, assigning the next
// free index if the id is unseen.
func (x *Index) ItemIndex(id string) int {
	if idx, ok := x.itemToIdx[id]; ok {
		return idx
	}
	idx := len(x.idxToItem)
	x.itemToIdx[id] = idx
	x.idxToItem = append(x.idxToItem, id)
	return idx
}

// LookupUser returns the index for a user id without creating one.
func (x *Index) LookupUser(id string) (int, bool) {
	idx, ok := x.userToIdx[id]
	return idx, ok
}

// LookupItem returns the index for an item id without creating one.
func (x *Index) LookupItem(id string) (int, bool) {
	idx, ok := x.itemToIdx[id]
	return idx, ok
}

// UserID resolves a dense index back to the external user id.
func (x *Index) UserID(idx int) (string, error) {
	if idx < 0 || idx >= len(x.idxToUser) {
		return "", fmt.Errorf("user index %d: %w", idx, ErrNotFound)
	}
	return x.idxToUser[idx], nil
}

// ItemID resolves a dense index back to the external item id.
func (x *Index) ItemID(idx int) (string, error) {
	if idx < 0 || idx >= len(x.idxToItem) {
		return "", fmt.Errorf("item index %d: %w", idx, ErrNotFound)
	}
	return x.idxToItem[idx], nil
}

// Users returns the number of assigned user indices.
func (x *Index) Users() int { return len(x.idxToUser) }

// Items returns the number of assigned item indices.
func (x *Index) Items() int { return len(x.idxToItem) }

// Snapshot returns copies of both forward orderings, index-ordered.
// Used by model persistence.
func (x *Index) Snapshot() (users, items []string) {
	users = append([]string(nil), x.idxToUser...)
	items = append([]string(nil), x.idxToItem...)
	return users, items
}

// Restore rebuilds the index from persisted orderings, replacing any
// existing state.
func (x *Index) Restore(users, items []string) {
	x.idxToUser = append([]string(nil), users...)
	x.idxToItem = append([]string(nil), items...)
	x.userToIdx = make(map[string]int, len(users))
	x.itemToIdx = make(map[string]int, len(items))
	for i, id := range users {
		x.userToIdx[id] = i
	}
	for i, id := range items {
		x.itemToIdx[id] = i
	}
}
