// Package model contains domain types passed between engine layers.
package model

import "time"

// Interaction is a single stored user/item row. Ratings live in [0,1];
// at most one row exists per (user, item) pair and the most recent write
// wins.
type Interaction struct {
	UserID    string
	ItemID    string
	Rating    float64
	Timestamp time.Time
}

// RatedItem is one entry of a user's interaction history, addressed by
// dense item index.
type RatedItem struct {
	ItemIdx int
	Rating  float64
}

// Event is a raw interaction event submitted by clients before it is
// resolved to a rating.
type Event struct {
	EventID string  // assigned at ingest when empty
	UserID  string  // subject user identifier
	ItemID  string  // song identifier
	Type    string  // "play", "like", "unlike", "skip", "save", "unsave"
	Context Context // optional listening context
	TS      time.Time
}

// Context carries the recognized listening-context keys. Unrecognized
// keys are preserved in Extra and passed through untouched; the engine
// never interprets them.
type Context struct {
	TimeOfDay string            `json:"time_of_day,omitempty"`
	Device    string            `json:"device,omitempty"`
	Location  string            `json:"location,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether no context field is set.
func (c Context) IsZero() bool {
	return c.TimeOfDay == "" && c.Device == "" && c.Location == "" && len(c.Extra) == 0
}

// ItemMeta is optional catalog metadata used by the cold-start path.
type ItemMeta struct {
	Genre      string
	Popularity float64 // 0-100 popularity proxy from the catalog; 0 when unknown
}

// CatalogEntry is one item row supplied by a catalog source: its audio
// feature map plus optional metadata.
type CatalogEntry struct {
	ItemID   string
	Features map[string]float64
	Meta     ItemMeta
}

// Recommendation is one ranked candidate with its per-source relevance
// breakdown. Score is the weighted hybrid score used for ordering; the
// breakdown fields are the unweighted component scores.
type Recommendation struct {
	ItemID        string  `json:"item_id"`
	Score         float64 `json:"score"`
	Collaborative float64 `json:"collaborative,omitempty"`
	ContentBased  float64 `json:"content_based,omitempty"`
	GenreMatch    float64 `json:"genre_match,omitempty"`
	Popularity    float64 `json:"popularity,omitempty"`
}

// RecommendationSet is the full response handed to callers.
type RecommendationSet struct {
	Recommendations []Recommendation `json:"recommendations"`
	ColdStart       bool             `json:"cold_start"`
	SeedGenres      []string         `json:"seed_genres,omitempty"`
	CFWeight        float64          `json:"collaborative_weight"`
	CBWeight        float64          `json:"content_based_weight"`
	Context         Context          `json:"context,omitempty"`
	Explanation     string           `json:"explanation"`
}

// SimilarItem is one content-similarity result.
type SimilarItem struct {
	ItemID     string  `json:"item_id"`
	Similarity float64 `json:"similarity"`
}

// GenreTaste aggregates a user's affinity for one genre.
type GenreTaste struct {
	Genre     string  `json:"genre"`
	Count     int     `json:"count"`
	AvgRating float64 `json:"avg_rating"`
}

// TasteProfile summarizes a user's listening history.
type TasteProfile struct {
	UserID       string       `json:"user_id"`
	Interactions int          `json:"interactions"`
	TopGenres    []GenreTaste `json:"top_genres"`
}
