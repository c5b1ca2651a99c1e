package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Xpertly-in/reactions/reaction"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Postgres provides durable storage of reaction records in PostgreSQL. It
// implements reaction.Store and reaction.Profiles.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and pings the DB to ensure the connection
// is working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Get returns the user's reaction record on the target, or
// reaction.ErrNotFound if they have none.
func (pg *Postgres) Get(ctx context.Context, userID string, target reaction.TargetRef) (reaction.Record, error) {
	var rec reactionRecord
	err := pg.bun.NewSelect().
		Model(&rec).
		Where("user_id = ?", userID).
		Where("target_type = ?", string(target.Type)).
		Where("target_id = ?", target.ID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return reaction.Record{}, reaction.ErrNotFound
	}
	if err != nil {
		return reaction.Record{}, fmt.Errorf("scan: %w", err)
	}
	return rec.record(), nil
}

// Insert inserts a reaction record. A second record for the same
// (user, target) tuple violates the primary key and maps to
// reaction.ErrConflict.
func (pg *Postgres) Insert(ctx context.Context, rec reaction.Record) (reaction.Record, error) {
	m := &reactionRecord{
		UserID:     rec.UserID,
		TargetType: string(rec.Target.Type),
		TargetID:   rec.Target.ID,
		Kind:       string(rec.Kind),
		CreatedAt:  rec.CreatedAt,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return reaction.Record{}, reaction.ErrConflict
		}
		return reaction.Record{}, fmt.Errorf("insert: %w", err)
	}
	return m.record(), nil
}

// UpdateKind changes the kind of an existing record in place, preserving
// created_at. Returns reaction.ErrNotFound if the record does not exist.
func (pg *Postgres) UpdateKind(ctx context.Context, userID string, target reaction.TargetRef, kind reaction.Kind) (reaction.Record, error) {
	rec := new(reactionRecord)
	_, err := pg.bun.NewUpdate().
		Model(rec).
		Set("kind = ?", string(kind)).
		Where("user_id = ?", userID).
		Where("target_type = ?", string(target.Type)).
		Where("target_id = ?", target.ID).
		Returning("*").
		Exec(ctx, rec)
	if errors.Is(err, sql.ErrNoRows) {
		return reaction.Record{}, reaction.ErrNotFound
	}
	if err != nil {
		return reaction.Record{}, fmt.Errorf("update: %w", err)
	}
	return rec.record(), nil
}

// Delete removes the user's record on the target. Returns
// reaction.ErrNotFound if none exists.
func (pg *Postgres) Delete(ctx context.Context, userID string, target reaction.TargetRef) error {
	res, err := pg.bun.NewDelete().
		Model((*reactionRecord)(nil)).
		Where("user_id = ?", userID).
		Where("target_type = ?", string(target.Type)).
		Where("target_id = ?", target.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return reaction.ErrNotFound
	}
	return nil
}

// ListByTarget returns the target's reaction records ordered by created_at
// descending, optionally filtered to one kind. user_id breaks timestamp ties
// so pages are stable.
func (pg *Postgres) ListByTarget(ctx context.Context, target reaction.TargetRef, kind *reaction.Kind, limit, offset int) ([]reaction.Record, error) {
	var recs []reactionRecord
	q := pg.bun.NewSelect().
		Model(&recs).
		Where("target_type = ?", string(target.Type)).
		Where("target_id = ?", target.ID).
		Order("created_at DESC", "user_id").
		Limit(limit).
		Offset(offset)

	if kind != nil {
		q = q.Where("kind = ?", string(*kind))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]reaction.Record, len(recs))
	for i, r := range recs {
		out[i] = r.record()
	}
	return out, nil
}

// LatestByTargets returns, for each target ID that has reactions, the most
// recent reaction record, in one query. Used by the batch summary path.
func (pg *Postgres) LatestByTargets(ctx context.Context, targetType reaction.TargetType, targetIDs []int64) (map[int64]reaction.Record, error) {
	if len(targetIDs) == 0 {
		return map[int64]reaction.Record{}, nil
	}
	var recs []reactionRecord
	err := pg.bun.NewSelect().
		Model(&recs).
		ColumnExpr("DISTINCT ON (target_id) *").
		Where("target_type = ?", string(targetType)).
		Where("target_id IN (?)", bun.In(targetIDs)).
		OrderExpr("target_id, created_at DESC, user_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make(map[int64]reaction.Record, len(recs))
	for _, r := range recs {
		out[r.TargetID] = r.record()
	}
	return out, nil
}

// CountsByTarget recomputes the per-kind counts for a target from the record
// rows. This is the source of truth the counter rebuild path uses.
func (pg *Postgres) CountsByTarget(ctx context.Context, target reaction.TargetRef) (reaction.Counts, error) {
	var rows []struct {
		Kind  string `bun:"kind"`
		Count int64  `bun:"count"`
	}
	err := pg.bun.NewSelect().
		Model((*reactionRecord)(nil)).
		Column("kind").
		ColumnExpr("count(*) AS count").
		Where("target_type = ?", string(target.Type)).
		Where("target_id = ?", target.ID).
		Group("kind").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	counts := make(reaction.Counts, len(rows))
	for _, row := range rows {
		counts[reaction.Kind(row.Kind)] = row.Count
	}
	return counts, nil
}

// DisplayNames resolves user IDs to profile display names. IDs without a
// profile row are simply absent from the result.
func (pg *Postgres) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}
	var profiles []profile
	err := pg.bun.NewSelect().
		Model(&profiles).
		Where("user_id IN (?)", bun.In(userIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make(map[string]string, len(profiles))
	for _, p := range profiles {
		out[p.UserID] = p.Name
	}
	return out, nil
}
