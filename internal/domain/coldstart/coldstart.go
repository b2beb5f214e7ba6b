// Package coldstart serves users whose history is too thin for the
// personalized models.
//
// Candidates come from two sources, in priority order: items sharing a
// genre with the user's most recent interactions, weighted by a
// popularity proxy, then the global popularity ranking filling the
// remaining slots. A user with zero interactions gets the pure
// popularity ranking. Results are tagged so callers can render a
// different explanation.
package coldstart

import (
	"sort"

	"github.com/okian/encore/internal/domain/model"
)

// Source weighting from the blended realtime scoring: genre-matched
// candidates outrank plain popularity at equal popularity.
const (
	genreSourceWeight = 1.3
	defaultRecentN    = 5
)

// Catalog exposes item metadata and the catalog size.
type Catalog interface {
	Meta(itemIdx int) (model.ItemMeta, bool)
	Items() int
}

// Activity exposes the interaction signals the fallback needs.
type Activity interface {
	RecentItems(userID string, n int) []int
	ItemInteractionCount(itemIdx int) int
	HistoryItems(userID string) map[int]struct{}
}

// Scored is one cold-start candidate.
type Scored struct {
	ItemIdx    int
	Score      float64
	GenreMatch float64
	Popularity float64
}

// Option applies a configuration option to the Recommender.
type Option func(*Recommender)

// WithRecentWindow sets how many recent interactions seed the genre
// source.
func WithRecentWindow(n int) Option {
	return func(r *Recommender) {
		if n > 0 {
			r.recentN = n
		}
	}
}

// Recommender produces popularity/genre-weighted recommendations.
type Recommender struct {
	catalog  Catalog
	activity Activity
	recentN  int
}

// New creates a Recommender over the catalog and activity sources.
func New(catalog Catalog, activity Activity, opts ...Option) *Recommender {
	r := &Recommender{catalog: catalog, activity: activity, recentN: defaultRecentN}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recommend returns up to n candidates and the seed genres that drove
// the genre-matched portion. Items the user already interacted with are
// skipped.
func (r *Recommender) Recommend(userID string, n int) (ranked []Scored, seedGenres []string) {
	seen := r.activity.HistoryItems(userID)
	seedGenres = r.seedGenres(userID)

	genreSet := make(map[string]struct{}, len(seedGenres))
	for _, g := range seedGenres {
		genreSet[g] = struct{}{}
	}

	var genreMatched, popular []Scored
	for itemIdx := 0; itemIdx < r.catalog.Items(); itemIdx++ {
		if _, skip := seen[itemIdx]; skip {
			continue
		}
		pop := r.popularity(itemIdx)
		entry := Scored{ItemIdx: itemIdx, Score: pop, Popularity: pop}

		if meta, ok := r.catalog.Meta(itemIdx); ok && meta.Genre != "" {
			if _, match := genreSet[meta.Genre]; match {
				entry.GenreMatch = pop * genreSourceWeight
				entry.Score = entry.GenreMatch
				genreMatched = append(genreMatched, entry)
				continue
			}
		}
		popular = append(popular, entry)
	}

	sortScored(genreMatched)
	sortScored(popular)

	ranked = make([]Scored, 0, n)
	for _, src := range [][]Scored{genreMatched, popular} {
		for _, s := range src {
			if len(ranked) >= n {
				return ranked, seedGenres
			}
			ranked = append(ranked, s)
		}
	}
	return ranked, seedGenres
}

// seedGenres collects distinct genres from the user's most recent
// interactions, newest first.
func (r *Recommender) seedGenres(userID string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, itemIdx := range r.activity.RecentItems(userID, r.recentN) {
		meta, ok := r.catalog.Meta(itemIdx)
		if !ok || meta.Genre == "" {
			continue
		}
		if _, dup := seen[meta.Genre]; dup {
			continue
		}
		seen[meta.Genre] = struct{}{}
		out = append(out, meta.Genre)
	}
	return out
}

// popularity returns the item's popularity proxy in [0,1]: the catalog
// popularity when present, otherwise the raw interaction count squashed
// by count/(count+1) so heavily played items approach 1.
func (r *Recommender) popularity(itemIdx int) float64 {
	if meta, ok := r.catalog.Meta(itemIdx); ok && meta.Popularity > 0 {
		p := meta.Popularity / 100
		if p > 1 {
			p = 1
		}
		return p
	}
	c := float64(r.activity.ItemInteractionCount(itemIdx))
	return c / (c + 1)
}

func sortScored(s []Scored) {
	sort.SliceStable(s, func(a, b int) bool {
		if s[a].Score != s[b].Score {
			return s[a].Score > s[b].Score
		}
		return s[a].ItemIdx < s[b].ItemIdx
	})
}
