// Package dataset reads interaction and catalog snapshots from JSON
// files. It provides the concrete sources consumed by the engine's bulk
// load path; anything else that can produce the same row types can be
// plugged in instead.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/okian/encore/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrOpenDataset   = errors.New("open dataset failed")
	ErrDecodeDataset = errors.New("decode dataset failed")
)

// interactionRow is the on-disk shape of one interaction.
type interactionRow struct {
	UserID    string  `json:"user_id"`
	ItemID    string  `json:"item_id"`
	Rating    float64 `json:"rating"`
	Timestamp string  `json:"timestamp,omitempty"` // RFC 3339; optional
}

// catalogRow is the on-disk shape of one catalog item. Features is kept
// loose on purpose: real exports mix numeric audio features with string
// tags, and only the numeric ones feed the content model.
type catalogRow struct {
	ItemID     string                 `json:"item_id"`
	Genre      string                 `json:"genre,omitempty"`
	Popularity float64                `json:"popularity,omitempty"`
	Features   map[string]interface{} `json:"features,omitempty"`
}

// InteractionsFile reads interactions from a JSON array file.
type InteractionsFile struct {
	path string
}

// NewInteractionsFile returns a source reading from path.
func NewInteractionsFile(path string) *InteractionsFile {
	return &InteractionsFile{path: path}
}

// Interactions decodes the whole file. Rows missing a user or item id
// are rejected rather than silently dropped.
func (f *InteractionsFile) Interactions(_ context.Context) ([]model.Interaction, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDataset, err)
	}

	var rows []interactionRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeDataset, f.path, err)
	}

	out := make([]model.Interaction, 0, len(rows))
	for i, r := range rows {
		if r.UserID == "" || r.ItemID == "" {
			return nil, fmt.Errorf("%w: %s: row %d missing user_id or item_id", ErrDecodeDataset, f.path, i)
		}
		ts := time.Time{}
		if r.Timestamp != "" {
			ts, err = time.Parse(time.RFC3339, r.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: row %d: %w", ErrDecodeDataset, f.path, i, err)
			}
		}
		out = append(out, model.Interaction{
			UserID:    r.UserID,
			ItemID:    r.ItemID,
			Rating:    r.Rating,
			Timestamp: ts,
		})
	}
	return out, nil
}

// CatalogFile reads item features and metadata from a JSON array file.
type CatalogFile struct {
	path string
}

// NewCatalogFile returns a source reading from path.
func NewCatalogFile(path string) *CatalogFile {
	return &CatalogFile{path: path}
}

// Catalog decodes the whole file. Non-numeric feature values are
// filtered out; numeric JSON values always decode as float64.
func (f *CatalogFile) Catalog(_ context.Context) ([]model.CatalogEntry, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDataset, err)
	}

	var rows []catalogRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeDataset, f.path, err)
	}

	out := make([]model.CatalogEntry, 0, len(rows))
	for i, r := range rows {
		if r.ItemID == "" {
			return nil, fmt.Errorf("%w: %s: row %d missing item_id", ErrDecodeDataset, f.path, i)
		}
		feats := make(map[string]float64, len(r.Features))
		for k, v := range r.Features {
			if n, ok := v.(float64); ok {
				feats[k] = n
			}
		}
		out = append(out, model.CatalogEntry{
			ItemID:   r.ItemID,
			Features: feats,
			Meta: model.ItemMeta{
				Genre:      r.Genre,
				Popularity: r.Popularity,
			},
		})
	}
	return out, nil
}
