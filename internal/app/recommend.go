package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/encore/internal/domain/hybrid"
	"github.com/okian/encore/internal/domain/model"
	"github.com/okian/encore/pkg/metrics"
)

// RecommendRequest carries per-request recommendation parameters.
type RecommendRequest struct {
	// Limit is the maximum number of items to return. Zero means the
	// default of 10; negative values are rejected.
	Limit int

	// IncludeListened keeps items the user already interacted with in
	// the candidate pool.
	IncludeListened bool

	// ExcludeItems are seed item ids kept out of the results, for
	// example the items a playlist was built from.
	ExcludeItems []string

	// CFWeight and CBWeight override the engine's blend for this
	// request. Both zero means the engine weights apply.
	CFWeight float64
	CBWeight float64

	// Context is the caller-supplied listening context. It is echoed
	// back in the response untouched; scoring never interprets it.
	Context model.Context
}

const defaultLimit = 10

// GetRecommendations returns ranked recommendations for a user. Users
// below the minimum interaction count, and all users before the first
// successful load or retrain, get the cold-start fallback; everyone
// else gets the hybrid ranking with a per-item relevance breakdown.
func (e *Engine) GetRecommendations(_ context.Context, userID string, req RecommendRequest) (*model.RecommendationSet, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRecommendLatency(float64(time.Since(start).Milliseconds()))
	}()

	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, req.Limit)
	}
	if limit > e.maxLimit {
		limit = e.maxLimit
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	userIdx, known := e.idx.LookupUser(userID)
	count := 0
	if known {
		count = len(e.store.HistoryByIndex(userIdx))
	}

	// Cold start covers thin histories and the window before a model
	// exists at all. A trained flag without a scorer means a restore
	// went bad; fall back rather than fail.
	if !e.trained || e.scorer == nil || count < e.minInteractions {
		return e.coldStartSet(userID, limit, req), nil
	}

	scorer := e.scorer
	if req.CFWeight > 0 || req.CBWeight > 0 {
		scorer = hybrid.New(e.latent, e.contentModel, req.CFWeight, req.CBWeight)
	}

	var exclude map[int]struct{}
	if len(req.ExcludeItems) > 0 {
		exclude = make(map[int]struct{}, len(req.ExcludeItems))
		for _, id := range req.ExcludeItems {
			if idx, ok := e.idx.LookupItem(id); ok {
				exclude[idx] = struct{}{}
			}
		}
	}

	history := e.store.HistoryByIndex(userIdx)
	scored := scorer.Recommend(userIdx, history, limit, exclude, req.IncludeListened)

	recs := make([]model.Recommendation, 0, len(scored))
	for _, s := range scored {
		itemID, err := e.idx.ItemID(s.ItemIdx)
		if err != nil {
			metrics.RecordScoringError()
			continue
		}
		recs = append(recs, model.Recommendation{
			ItemID:        itemID,
			Score:         s.Score,
			Collaborative: s.Collaborative,
			ContentBased:  s.ContentBased,
		})
	}

	cf, cb := scorer.Weights()
	metrics.RecordRecommendationServed("hybrid")
	return &model.RecommendationSet{
		Recommendations: recs,
		ColdStart:       false,
		CFWeight:        cf,
		CBWeight:        cb,
		Context:         req.Context,
		Explanation:     hybridExplanation(recs, cf, cb),
	}, nil
}

// coldStartSet builds the fallback response. Caller holds the read lock.
func (e *Engine) coldStartSet(userID string, limit int, req RecommendRequest) *model.RecommendationSet {
	ranked, seedGenres := e.fallback.Recommend(userID, limit+len(req.ExcludeItems))

	excluded := make(map[string]struct{}, len(req.ExcludeItems))
	for _, id := range req.ExcludeItems {
		excluded[id] = struct{}{}
	}

	recs := make([]model.Recommendation, 0, limit)
	for _, s := range ranked {
		if len(recs) == limit {
			break
		}
		itemID, err := e.idx.ItemID(s.ItemIdx)
		if err != nil {
			metrics.RecordScoringError()
			continue
		}
		if _, skip := excluded[itemID]; skip {
			continue
		}
		recs = append(recs, model.Recommendation{
			ItemID:     itemID,
			Score:      s.Score,
			GenreMatch: s.GenreMatch,
			Popularity: s.Popularity,
		})
	}

	metrics.RecordRecommendationServed("cold_start")
	return &model.RecommendationSet{
		Recommendations: recs,
		ColdStart:       true,
		SeedGenres:      seedGenres,
		CFWeight:        e.cfWeight,
		CBWeight:        e.cbWeight,
		Context:         req.Context,
		Explanation:     coldStartExplanation(seedGenres),
	}
}

// GetSimilarItems returns the most similar items to one item by content
// features only.
func (e *Engine) GetSimilarItems(_ context.Context, itemID string, limit int) ([]model.SimilarItem, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > e.maxLimit {
		limit = e.maxLimit
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	itemIdx, ok := e.idx.LookupItem(itemID)
	if !ok {
		return nil, fmt.Errorf("item %q: %w", itemID, ErrUnknownID)
	}

	ranked, err := e.contentModel.SimilarItems(itemIdx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]model.SimilarItem, 0, len(ranked))
	for _, r := range ranked {
		id, idErr := e.idx.ItemID(r.ItemIdx)
		if idErr != nil {
			continue
		}
		out = append(out, model.SimilarItem{ItemID: id, Similarity: r.Rating})
	}
	metrics.RecordSimilarQuery()
	return out, nil
}

// TasteProfile summarizes a user's history as genre affinities, most
// frequent first.
func (e *Engine) TasteProfile(_ context.Context, userID string) *model.TasteProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()

	history := e.store.History(userID)

	type agg struct {
		count int
		sum   float64
	}
	byGenre := make(map[string]*agg)
	for _, h := range history {
		meta, ok := e.catalog[h.ItemIdx]
		if !ok || meta.Genre == "" {
			continue
		}
		a := byGenre[meta.Genre]
		if a == nil {
			a = &agg{}
			byGenre[meta.Genre] = a
		}
		a.count++
		a.sum += h.Rating
	}

	genres := make([]model.GenreTaste, 0, len(byGenre))
	for g, a := range byGenre {
		genres = append(genres, model.GenreTaste{
			Genre:     g,
			Count:     a.count,
			AvgRating: a.sum / float64(a.count),
		})
	}
	sort.Slice(genres, func(i, j int) bool {
		if genres[i].Count != genres[j].Count {
			return genres[i].Count > genres[j].Count
		}
		if genres[i].AvgRating != genres[j].AvgRating {
			return genres[i].AvgRating > genres[j].AvgRating
		}
		return genres[i].Genre < genres[j].Genre
	})

	return &model.TasteProfile{
		UserID:       userID,
		Interactions: len(history),
		TopGenres:    genres,
	}
}

// Explanation thresholds: one source "drives" the ranking when its
// weighted contribution exceeds the other's by a quarter.
const dominanceRatio = 1.25

func hybridExplanation(recs []model.Recommendation, cf, cb float64) string {
	var sumCF, sumCB float64
	for _, r := range recs {
		sumCF += r.Collaborative
		sumCB += r.ContentBased
	}
	wCF := cf * sumCF
	wCB := cb * sumCB
	switch {
	case wCF > wCB*dominanceRatio:
		return "Based on listeners with taste similar to yours"
	case wCB > wCF*dominanceRatio:
		return "Based on the sound of tracks you enjoy"
	default:
		return "Based on a blend of your listening history and track sound"
	}
}

func coldStartExplanation(seedGenres []string) string {
	if len(seedGenres) == 0 {
		return "Popular tracks to get you started"
	}
	return "Popular tracks in genres you've been playing: " + strings.Join(seedGenres, ", ")
}
