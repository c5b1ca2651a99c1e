package api

import (
	"time"

	"github.com/Xpertly-in/reactions/reaction"
)

// A Summary is the aggregate view of a target's reactions rendered next to a
// post or comment.
type Summary struct {
	Counts            map[string]int64 `json:"counts"`
	TopKinds          []string         `json:"top_kinds"`
	LatestReactorName *string          `json:"latest_reactor_name"`
}

// A Reactor is one entry in the "who reacted" list.
type Reactor struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

func toSummary(s reaction.Summary) Summary {
	counts := make(map[string]int64, len(s.Counts))
	for kind, n := range s.Counts {
		counts[string(kind)] = n
	}
	top := make([]string, len(s.TopKinds))
	for i, kind := range s.TopKinds {
		top[i] = string(kind)
	}
	return Summary{
		Counts:            counts,
		TopKinds:          top,
		LatestReactorName: s.LatestReactorName,
	}
}

func toReactors(items []reaction.Reactor) []Reactor {
	out := make([]Reactor, len(items))
	for i, it := range items {
		out[i] = Reactor{
			UserID:      it.UserID,
			DisplayName: it.DisplayName,
			Kind:        string(it.Kind),
			CreatedAt:   it.CreatedAt,
		}
	}
	return out
}
