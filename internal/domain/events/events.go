// Package events resolves named interaction events to the fixed target
// ratings the engine stores and learns from.
package events

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEventType rejects event types outside the recognized set.
// Unknown events are never silently defaulted to a rating; they are
// rejected at the pipeline boundary and logged by the caller.
var ErrUnknownEventType = errors.New("unknown event type")

// Recognized event types.
const (
	Play   = "play"
	Like   = "like"
	Unlike = "unlike"
	Skip   = "skip"
	Save   = "save"
	Unsave = "unsave"
)

// ratingByType maps each recognized event to its target rating.
var ratingByType = map[string]float64{
	Play:   0.6,
	Like:   1.0,
	Unlike: 0.0,
	Skip:   0.2,
	Save:   0.8,
	Unsave: 0.3,
}

// Rating resolves an event type (case-insensitive) to its rating.
func Rating(eventType string) (float64, error) {
	r, ok := ratingByType[strings.ToLower(strings.TrimSpace(eventType))]
	if !ok {
		return 0, fmt.Errorf("%q: %w", eventType, ErrUnknownEventType)
	}
	return r, nil
}

// Known reports whether the event type is recognized.
func Known(eventType string) bool {
	_, ok := ratingByType[strings.ToLower(strings.TrimSpace(eventType))]
	return ok
}

// Types returns the recognized event types.
func Types() []string {
	return []string{Play, Like, Unlike, Skip, Save, Unsave}
}
