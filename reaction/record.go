package reaction

import "time"

// A Record is the atomic reaction fact: one user's current reaction to one
// target. At most one Record exists per (UserID, Target) tuple. CreatedAt is
// set when the record is first inserted and survives kind changes, so "latest
// reactor" ordering reflects when the user first reacted, not their most
// recent kind switch.
type Record struct {
	UserID    string
	Target    TargetRef
	Kind      Kind
	CreatedAt time.Time
}

// A Reactor is one entry in the "who reacted" listing: a record joined with
// the user's display identity, which is resolved outside this core.
type Reactor struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Kind        Kind      `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// Counts maps each reaction kind to the number of current records of that
// kind on a target. Kinds that were decremented back to zero may be present
// with a zero value; readers treat zero and absent the same.
type Counts map[Kind]int64

// Total returns the number of reaction records the counts represent.
func (c Counts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// A Summary is the denormalized aggregate the presentation layer renders next
// to a target: per-kind counts, the top kinds by count, and the display name
// of the most recent reactor regardless of kind.
type Summary struct {
	Counts            Counts  `json:"counts"`
	TopKinds          []Kind  `json:"top_kinds"`
	LatestReactorName *string `json:"latest_reactor_name"`
}
