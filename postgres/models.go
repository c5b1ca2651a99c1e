package postgres

import (
	"time"

	"github.com/Xpertly-in/reactions/reaction"
	"github.com/uptrace/bun"
)

// A reactionRecord is a reaction row in the database. The composite primary
// key (user_id, target_type, target_id) enforces the one-reaction-per-user
// invariant; kind changes update the row in place so created_at is stable.
type reactionRecord struct {
	bun.BaseModel `bun:"table:reactions"`

	UserID     string    `bun:"user_id,pk"`
	TargetType string    `bun:"target_type,pk"`
	TargetID   int64     `bun:"target_id,pk"`
	Kind       string    `bun:"kind,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,default:now()"`
}

// A profile is a row in the marketplace's profile table. Only the columns
// needed to resolve display names are mapped.
type profile struct {
	bun.BaseModel `bun:"table:profiles"`

	UserID string `bun:"user_id,pk"`
	Name   string `bun:"name"`
}

func (r reactionRecord) record() reaction.Record {
	return reaction.Record{
		UserID: r.UserID,
		Target: reaction.TargetRef{
			Type: reaction.TargetType(r.TargetType),
			ID:   r.TargetID,
		},
		Kind:      reaction.Kind(r.Kind),
		CreatedAt: r.CreatedAt,
	}
}
