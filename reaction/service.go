package reaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// A Store provides durable storage of individual reaction records. The
// uniqueness of (user, target) is the store's responsibility: Insert reports
// ErrConflict when a record already exists, UpdateKind and Delete report
// ErrNotFound when none does. Those signals are the serialization point for
// same-user races.
type Store interface {
	Get(ctx context.Context, userID string, target TargetRef) (Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	UpdateKind(ctx context.Context, userID string, target TargetRef, kind Kind) (Record, error)
	Delete(ctx context.Context, userID string, target TargetRef) error
	ListByTarget(ctx context.Context, target TargetRef, kind *Kind, limit, offset int) ([]Record, error)
	LatestByTargets(ctx context.Context, targetType TargetType, targetIDs []int64) (map[int64]Record, error)
	CountsByTarget(ctx context.Context, target TargetRef) (Counts, error)
}

// A Counters maintains the denormalized per-target per-kind counts. ApplyChange
// is a single atomic unit: readers never observe the decrement without the
// increment or vice versa. Decrements floor at zero.
type Counters interface {
	ApplyInsert(ctx context.Context, target TargetRef, kind Kind) error
	ApplyChange(ctx context.Context, target TargetRef, from, to Kind) error
	ApplyDelete(ctx context.Context, target TargetRef, kind Kind) error
	Get(ctx context.Context, target TargetRef) (Counts, error)
	GetMany(ctx context.Context, targetType TargetType, targetIDs []int64) (map[int64]Counts, error)
	Rebuild(ctx context.Context, target TargetRef, counts Counts) error
}

// A Profiles resolves user IDs to display names. Identity data is owned
// outside this core; records store only user IDs.
type Profiles interface {
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// defaultTimeout bounds every store round trip so a slow backend fails the
// call instead of hanging it.
const defaultTimeout = 3 * time.Second

// Service is the reaction core: the toggle state machine plus the summary
// read path. All mutations on a target serialize on an in-process lock so
// counters never drift from the record set.
type Service struct {
	Store    Store
	Counters Counters
	Profiles Profiles
	Logger   *slog.Logger
	Timeout  time.Duration

	once  sync.Once
	locks *targetLocks
}

func (s *Service) init() {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	s.locks = newTargetLocks()
}

// Toggle applies one user click on a reaction kind. Starting from no record
// it inserts; clicking the current kind removes it; clicking a different kind
// updates the record in place. The returned kind is the user's reaction after
// the toggle, nil when the toggle removed it.
//
// Store-level races (a concurrent insert or a concurrent removal by the same
// user from another process) are resolved here and never surface to the
// caller.
func (s *Service) Toggle(ctx context.Context, userID string, target TargetRef, kind Kind) (*Kind, error) {
	s.once.Do(s.init)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	release, err := s.locks.acquire(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("acquire target lock: %w", ErrStoreUnavailable)
	}
	defer release()

	cur, err := s.Store.Get(ctx, userID, target)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.toggleInsert(ctx, userID, target, kind)
	case err != nil:
		return nil, unavailable("get record", err)
	case cur.Kind == kind:
		return s.toggleRemove(ctx, userID, target, kind)
	default:
		return s.toggleChange(ctx, userID, target, cur.Kind, kind)
	}
}

func (s *Service) toggleInsert(ctx context.Context, userID string, target TargetRef, kind Kind) (*Kind, error) {
	_, err := s.Store.Insert(ctx, Record{
		UserID:    userID,
		Target:    target,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, ErrConflict) {
		// Lost a concurrent first-reaction race. Re-read and fall through to
		// the state the record is actually in.
		cur, err := s.Store.Get(ctx, userID, target)
		if err != nil {
			return nil, unavailable("get record after conflict", err)
		}
		if cur.Kind == kind {
			return s.toggleRemove(ctx, userID, target, kind)
		}
		return s.toggleChange(ctx, userID, target, cur.Kind, kind)
	}
	if err != nil {
		return nil, unavailable("insert record", err)
	}
	if err := s.applyCounter(ctx, target, func() error {
		return s.Counters.ApplyInsert(ctx, target, kind)
	}); err != nil {
		return nil, err
	}
	return &kind, nil
}

func (s *Service) toggleRemove(ctx context.Context, userID string, target TargetRef, kind Kind) (*Kind, error) {
	err := s.Store.Delete(ctx, userID, target)
	if errors.Is(err, ErrNotFound) {
		// Already gone (concurrent un-react). Counts were adjusted by whoever
		// deleted it; nothing to do.
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("delete record", err)
	}
	if err := s.applyCounter(ctx, target, func() error {
		return s.Counters.ApplyDelete(ctx, target, kind)
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Service) toggleChange(ctx context.Context, userID string, target TargetRef, from, to Kind) (*Kind, error) {
	_, err := s.Store.UpdateKind(ctx, userID, target, to)
	if errors.Is(err, ErrNotFound) {
		// Record vanished under us; an update of an absent record is a fresh
		// insert.
		return s.toggleInsert(ctx, userID, target, to)
	}
	if err != nil {
		return nil, unavailable("update record kind", err)
	}
	if err := s.applyCounter(ctx, target, func() error {
		return s.Counters.ApplyChange(ctx, target, from, to)
	}); err != nil {
		return nil, err
	}
	return &to, nil
}

// applyCounter runs a counter mutation after the record mutation committed.
// If the counter side fails the record is still the source of truth, so we
// rebuild the target's counters from the store instead of failing the toggle.
// Only when the rebuild also fails does the caller see an error.
func (s *Service) applyCounter(ctx context.Context, target TargetRef, apply func() error) error {
	err := apply()
	if err == nil {
		return nil
	}
	s.Logger.Error("Counter update failed, rebuilding from records", "target", target.String(), "error", err.Error())
	if rerr := s.reconcile(ctx, target); rerr != nil {
		return unavailable("apply counter delta", err)
	}
	return nil
}

// MyReaction returns the user's current reaction kind on the target, nil if
// they have none.
func (s *Service) MyReaction(ctx context.Context, userID string, target TargetRef) (*Kind, error) {
	s.once.Do(s.init)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	rec, err := s.Store.Get(ctx, userID, target)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get record", err)
	}
	return &rec.Kind, nil
}

// Reconcile recomputes the target's counters from the record store and
// overwrites the denormalized counts. It is the repair path for the window
// between a committed record mutation and its counter delta.
func (s *Service) Reconcile(ctx context.Context, target TargetRef) error {
	s.once.Do(s.init)
	if !target.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	release, err := s.locks.acquire(ctx, target)
	if err != nil {
		return fmt.Errorf("acquire target lock: %w", ErrStoreUnavailable)
	}
	defer release()

	return s.reconcile(ctx, target)
}

// reconcile assumes the caller holds the target lock.
func (s *Service) reconcile(ctx context.Context, target TargetRef) error {
	counts, err := s.Store.CountsByTarget(ctx, target)
	if err != nil {
		return unavailable("count records", err)
	}
	if err := s.Counters.Rebuild(ctx, target, counts); err != nil {
		return unavailable("rebuild counters", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
