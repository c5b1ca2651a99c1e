package reaction

import (
	"context"
	"fmt"
	"sort"
)

// pageSize defines the number of reactors returned per page.
var pageSize = 10

// topKindCount is how many kinds a summary ranks, matching the three slots
// the summary widget renders.
const topKindCount = 3

// TopKinds returns the n kinds with the highest counts, highest first.
// Zero-count kinds are skipped and ties break on the canonical kind order so
// repeated reads never reorder equal counts.
func TopKinds(c Counts, n int) []Kind {
	kinds := make([]Kind, 0, len(c))
	for k, v := range c {
		if v > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool {
		if c[kinds[i]] != c[kinds[j]] {
			return c[kinds[i]] > c[kinds[j]]
		}
		return kinds[i].rank() < kinds[j].rank()
	})
	if len(kinds) > n {
		kinds = kinds[:n]
	}
	return kinds
}

// Summary returns the aggregate view of a target: per-kind counts, the top
// kinds, and the display name of the latest reactor regardless of kind.
// It is a pure read; counts may be at most one in-flight toggle stale.
func (s *Service) Summary(ctx context.Context, target TargetRef) (Summary, error) {
	s.once.Do(s.init)
	if !target.Valid() {
		return Summary{}, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	counts, err := s.Counters.Get(ctx, target)
	if err != nil {
		return Summary{}, unavailable("get counters", err)
	}

	sum := Summary{
		Counts:   counts,
		TopKinds: TopKinds(counts, topKindCount),
	}

	latest, err := s.Store.ListByTarget(ctx, target, nil, 1, 0)
	if err != nil {
		return Summary{}, unavailable("list latest reactor", err)
	}
	if len(latest) > 0 {
		name := s.displayName(ctx, latest[0].UserID)
		sum.LatestReactorName = &name
	}
	return sum, nil
}

// SummaryBatch returns one summary per target ID in a single round trip per
// backend, for feed rendering. IDs without any reactions map to an empty
// summary.
func (s *Service) SummaryBatch(ctx context.Context, targetType TargetType, targetIDs []int64) (map[int64]Summary, error) {
	s.once.Do(s.init)
	if !targetType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, targetType)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	out := make(map[int64]Summary, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}

	counts, err := s.Counters.GetMany(ctx, targetType, targetIDs)
	if err != nil {
		return nil, unavailable("get counters", err)
	}
	latest, err := s.Store.LatestByTargets(ctx, targetType, targetIDs)
	if err != nil {
		return nil, unavailable("list latest reactors", err)
	}

	userIDs := make([]string, 0, len(latest))
	for _, rec := range latest {
		userIDs = append(userIDs, rec.UserID)
	}
	names := s.displayNames(ctx, userIDs)

	for _, id := range targetIDs {
		c := counts[id]
		if c == nil {
			c = Counts{}
		}
		sum := Summary{
			Counts:   c,
			TopKinds: TopKinds(c, topKindCount),
		}
		if rec, ok := latest[id]; ok {
			name := names[rec.UserID]
			sum.LatestReactorName = &name
		}
		out[id] = sum
	}
	return out, nil
}

// Reactors lists who reacted to the target, newest first, optionally filtered
// to one kind. Pages are 1-based; hasMore reports whether another page
// exists.
func (s *Service) Reactors(ctx context.Context, target TargetRef, kindFilter *Kind, page int) (items []Reactor, hasMore bool, err error) {
	s.once.Do(s.init)
	if !target.Valid() {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	if kindFilter != nil && !kindFilter.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidKind, *kindFilter)
	}
	if page < 1 {
		page = 1
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	// Fetch one extra record to learn whether another page exists.
	recs, err := s.Store.ListByTarget(ctx, target, kindFilter, pageSize+1, pageSize*(page-1))
	if err != nil {
		return nil, false, unavailable("list records", err)
	}
	if len(recs) > pageSize {
		hasMore = true
		recs = recs[:pageSize]
	}

	userIDs := make([]string, len(recs))
	for i, rec := range recs {
		userIDs[i] = rec.UserID
	}
	names := s.displayNames(ctx, userIDs)

	items = make([]Reactor, len(recs))
	for i, rec := range recs {
		items[i] = Reactor{
			UserID:      rec.UserID,
			DisplayName: names[rec.UserID],
			Kind:        rec.Kind,
			CreatedAt:   rec.CreatedAt,
		}
	}
	return items, hasMore, nil
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	return s.displayNames(ctx, []string{userID})[userID]
}

// displayNames resolves display identities, falling back to the raw user ID
// when the resolver is absent, fails, or has no entry. Name resolution is
// cosmetic and must never fail a read.
func (s *Service) displayNames(ctx context.Context, userIDs []string) map[string]string {
	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		out[id] = id
	}
	if s.Profiles == nil || len(userIDs) == 0 {
		return out
	}
	names, err := s.Profiles.DisplayNames(ctx, userIDs)
	if err != nil {
		s.Logger.Error("Could not resolve display names", "error", err.Error())
		return out
	}
	for id, name := range names {
		if name != "" {
			out[id] = name
		}
	}
	return out
}
