package reaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

// memStore is a functional in-memory Store. Individual operations can be
// overridden per test to inject races and failures.
type memStore struct {
	mu   sync.Mutex
	recs map[string]Record

	getFn    func(ctx context.Context, userID string, target TargetRef) (Record, error)
	insertFn func(ctx context.Context, rec Record) (Record, error)
	updateFn func(ctx context.Context, userID string, target TargetRef, kind Kind) (Record, error)
	deleteFn func(ctx context.Context, userID string, target TargetRef) error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Record)}
}

func recKey(userID string, target TargetRef) string {
	return fmt.Sprintf("%s|%s", userID, target)
}

func (s *memStore) Get(ctx context.Context, userID string, target TargetRef) (Record, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, target)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[recKey(userID, target)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if s.insertFn != nil {
		return s.insertFn(ctx, rec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recKey(rec.UserID, rec.Target)
	if _, ok := s.recs[key]; ok {
		return Record{}, ErrConflict
	}
	s.recs[key] = rec
	return rec, nil
}

func (s *memStore) UpdateKind(ctx context.Context, userID string, target TargetRef, kind Kind) (Record, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, userID, target, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recKey(userID, target)
	rec, ok := s.recs[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Kind = kind
	s.recs[key] = rec
	return rec, nil
}

func (s *memStore) Delete(ctx context.Context, userID string, target TargetRef) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID, target)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recKey(userID, target)
	if _, ok := s.recs[key]; !ok {
		return ErrNotFound
	}
	delete(s.recs, key)
	return nil
}

func (s *memStore) ListByTarget(ctx context.Context, target TargetRef, kind *Kind, limit, offset int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []Record
	for _, rec := range s.recs {
		if rec.Target != target {
			continue
		}
		if kind != nil && rec.Kind != *kind {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].UserID < recs[j].UserID
	})
	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *memStore) LatestByTargets(ctx context.Context, targetType TargetType, targetIDs []int64) (map[int64]Record, error) {
	out := make(map[int64]Record)
	for _, id := range targetIDs {
		recs, err := s.ListByTarget(ctx, TargetRef{Type: targetType, ID: id}, nil, 1, 0)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			out[id] = recs[0]
		}
	}
	return out, nil
}

func (s *memStore) CountsByTarget(ctx context.Context, target TargetRef) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := Counts{}
	for _, rec := range s.recs {
		if rec.Target == target {
			counts[rec.Kind]++
		}
	}
	return counts, nil
}

// recordCount reports the number of records on target, for checking the
// count-consistency invariant.
func (s *memStore) recordCount(target TargetRef) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.recs {
		if rec.Target == target {
			n++
		}
	}
	return n
}

// memCounters is a functional in-memory Counters with injectable failures.
type memCounters struct {
	mu     sync.Mutex
	counts map[TargetRef]Counts

	failApply   error
	failRebuild error
}

func newMemCounters() *memCounters {
	return &memCounters{counts: make(map[TargetRef]Counts)}
}

func (c *memCounters) bump(target TargetRef, kind Kind, delta int64) {
	m, ok := c.counts[target]
	if !ok {
		m = Counts{}
		c.counts[target] = m
	}
	m[kind] += delta
	if m[kind] < 0 {
		m[kind] = 0
	}
}

func (c *memCounters) ApplyInsert(ctx context.Context, target TargetRef, kind Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failApply != nil {
		return c.failApply
	}
	c.bump(target, kind, 1)
	return nil
}

func (c *memCounters) ApplyChange(ctx context.Context, target TargetRef, from, to Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failApply != nil {
		return c.failApply
	}
	c.bump(target, from, -1)
	c.bump(target, to, 1)
	return nil
}

func (c *memCounters) ApplyDelete(ctx context.Context, target TargetRef, kind Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failApply != nil {
		return c.failApply
	}
	c.bump(target, kind, -1)
	return nil
}

func (c *memCounters) Get(ctx context.Context, target TargetRef) (Counts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Counts{}
	for kind, n := range c.counts[target] {
		out[kind] = n
	}
	return out, nil
}

func (c *memCounters) GetMany(ctx context.Context, targetType TargetType, targetIDs []int64) (map[int64]Counts, error) {
	out := make(map[int64]Counts)
	for _, id := range targetIDs {
		counts, err := c.Get(ctx, TargetRef{Type: targetType, ID: id})
		if err != nil {
			return nil, err
		}
		out[id] = counts
	}
	return out, nil
}

func (c *memCounters) Rebuild(ctx context.Context, target TargetRef, counts Counts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failRebuild != nil {
		return c.failRebuild
	}
	m := Counts{}
	for kind, n := range counts {
		m[kind] = n
	}
	c.counts[target] = m
	return nil
}

func newTestService(t *testing.T, store Store, counters Counters) *Service {
	t.Helper()
	return &Service{
		Store:    store,
		Counters: counters,
		Logger:   slogt.New(t),
	}
}

// nonZero strips zero-count kinds so tests can compare against the net
// counts; readers treat zero and absent the same.
func nonZero(c Counts) Counts {
	out := Counts{}
	for kind, n := range c {
		if n != 0 {
			out[kind] = n
		}
	}
	return out
}

var post42 = TargetRef{Type: TargetPost, ID: 42}

func TestService_Toggle_insert(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	kind, err := svc.Toggle(ctx, "u1", post42, KindLike)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if kind == nil || *kind != KindLike {
		t.Errorf("Got kind %v, want like", kind)
	}

	got, err := counters.Get(ctx, post42)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Counts{KindLike: 1}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}

	mine, err := svc.MyReaction(ctx, "u1", post42)
	if err != nil {
		t.Fatalf("MyReaction: %v", err)
	}
	if mine == nil || *mine != KindLike {
		t.Errorf("Got my reaction %v, want like", mine)
	}
}

func TestService_Toggle_changeKind(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	if _, err := svc.Toggle(ctx, "u1", post42, KindLike); err != nil {
		t.Fatalf("Toggle like: %v", err)
	}
	kind, err := svc.Toggle(ctx, "u1", post42, KindLove)
	if err != nil {
		t.Fatalf("Toggle love: %v", err)
	}
	if kind == nil || *kind != KindLove {
		t.Errorf("Got kind %v, want love", kind)
	}

	got, _ := counters.Get(ctx, post42)
	if diff := cmp.Diff(Counts{KindLove: 1}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if total := nonZero(got).Total(); total != 1 {
		t.Errorf("Got total %d, want 1", total)
	}

	mine, _ := svc.MyReaction(ctx, "u1", post42)
	if mine == nil || *mine != KindLove {
		t.Errorf("Got my reaction %v, want love", mine)
	}
}

func TestService_Toggle_unreact(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	if _, err := svc.Toggle(ctx, "u1", post42, KindLove); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	kind, err := svc.Toggle(ctx, "u1", post42, KindLove)
	if err != nil {
		t.Fatalf("Toggle again: %v", err)
	}
	if kind != nil {
		t.Errorf("Got kind %v, want nil after un-react", *kind)
	}

	got, _ := counters.Get(ctx, post42)
	if diff := cmp.Diff(Counts{}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if n := store.recordCount(post42); n != 0 {
		t.Errorf("Got %d records, want 0", n)
	}

	mine, _ := svc.MyReaction(ctx, "u1", post42)
	if mine != nil {
		t.Errorf("Got my reaction %v, want nil", *mine)
	}
}

func TestService_Toggle_roundTrip(t *testing.T) {
	svc := newTestService(t, newMemStore(), newMemCounters())
	ctx := context.Background()

	if _, err := svc.Toggle(ctx, "u1", post42, KindFire); err != nil {
		t.Fatal(err)
	}
	mine, _ := svc.MyReaction(ctx, "u1", post42)
	if mine == nil || *mine != KindFire {
		t.Fatalf("Got %v, want fire", mine)
	}
	if _, err := svc.Toggle(ctx, "u1", post42, KindFire); err != nil {
		t.Fatal(err)
	}
	mine, _ = svc.MyReaction(ctx, "u1", post42)
	if mine != nil {
		t.Fatalf("Got %v, want nil", *mine)
	}
}

func TestService_Toggle_validation(t *testing.T) {
	svc := newTestService(t, newMemStore(), newMemCounters())
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		target  TargetRef
		kind    Kind
		wantErr error
	}{
		{
			name:    "Unauthenticated",
			userID:  "",
			target:  post42,
			kind:    KindLike,
			wantErr: ErrUnauthenticated,
		},
		{
			name:    "InvalidKind",
			userID:  "u1",
			target:  post42,
			kind:    Kind("wow"),
			wantErr: ErrInvalidKind,
		},
		{
			name:    "InvalidTargetType",
			userID:  "u1",
			target:  TargetRef{Type: "story", ID: 1},
			kind:    KindLike,
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "InvalidTargetID",
			userID:  "u1",
			target:  TargetRef{Type: TargetPost, ID: 0},
			kind:    KindLike,
			wantErr: ErrInvalidTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Toggle(ctx, tt.userID, tt.target, tt.kind)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Got error %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_Toggle_concurrentUsers(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()
	target := TargetRef{Type: TargetPost, ID: 99}

	var wg sync.WaitGroup
	toggle := func(userID string, kind Kind) {
		defer wg.Done()
		if _, err := svc.Toggle(ctx, userID, target, kind); err != nil {
			t.Errorf("Toggle %s: %v", userID, err)
		}
	}
	wg.Add(3)
	go toggle("u2", KindFire)
	go toggle("u3", KindFire)
	go toggle("u4", KindLike)
	wg.Wait()

	got, _ := counters.Get(ctx, target)
	want := Counts{KindFire: 2, KindLike: 1}
	if diff := cmp.Diff(want, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

// TestService_Toggle_countInvariant hammers one target from many goroutines
// and checks that the counter sum always equals the record count afterwards.
func TestService_Toggle_countInvariant(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()
	target := TargetRef{Type: TargetComment, ID: 7}

	kinds := Kinds()
	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", u)
			for i := 0; i < 25; i++ {
				kind := kinds[(u+i)%len(kinds)]
				if _, err := svc.Toggle(ctx, userID, target, kind); err != nil {
					t.Errorf("Toggle: %v", err)
					return
				}
			}
		}(u)
	}
	wg.Wait()

	got, _ := counters.Get(ctx, target)
	if total, recs := got.Total(), store.recordCount(target); total != recs {
		t.Errorf("Counter sum %d does not match record count %d", total, recs)
	}
	truth, _ := store.CountsByTarget(ctx, target)
	if diff := cmp.Diff(nonZero(truth), nonZero(got)); diff != "" {
		t.Errorf("Counts drifted from records (-want +got):\n%s", diff)
	}
}

func TestService_Toggle_insertConflictFallsBackToChange(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	// Another process inserts between our Get and Insert: the first Get sees
	// nothing, the Insert conflicts, the re-read sees the other record.
	store.getFn = func(ctx context.Context, userID string, target TargetRef) (Record, error) {
		store.getFn = nil
		store.recs[recKey(userID, target)] = Record{
			UserID:    userID,
			Target:    target,
			Kind:      KindLike,
			CreatedAt: time.Now().UTC(),
		}
		counters.bump(target, KindLike, 1)
		return Record{}, ErrNotFound
	}

	kind, err := svc.Toggle(ctx, "u1", post42, KindLove)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if kind == nil || *kind != KindLove {
		t.Errorf("Got kind %v, want love", kind)
	}
	got, _ := counters.Get(ctx, post42)
	if diff := cmp.Diff(Counts{KindLove: 1}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Toggle_deleteVanishedIsNoop(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	store.recs[recKey("u1", post42)] = Record{
		UserID: "u1", Target: post42, Kind: KindSad, CreatedAt: time.Now().UTC(),
	}
	counters.bump(post42, KindSad, 1)

	// The record disappears between Get and Delete (concurrent un-react that
	// already adjusted the counters).
	store.deleteFn = func(ctx context.Context, userID string, target TargetRef) error {
		delete(store.recs, recKey(userID, target))
		counters.bump(target, KindSad, -1)
		return ErrNotFound
	}

	kind, err := svc.Toggle(ctx, "u1", post42, KindSad)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if kind != nil {
		t.Errorf("Got kind %v, want nil", *kind)
	}
	got, _ := counters.Get(ctx, post42)
	if diff := cmp.Diff(Counts{}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Toggle_updateVanishedBecomesInsert(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	store.recs[recKey("u1", post42)] = Record{
		UserID: "u1", Target: post42, Kind: KindLike, CreatedAt: time.Now().UTC(),
	}
	counters.bump(post42, KindLike, 1)

	store.updateFn = func(ctx context.Context, userID string, target TargetRef, kind Kind) (Record, error) {
		delete(store.recs, recKey(userID, target))
		counters.bump(target, KindLike, -1)
		store.updateFn = nil
		return Record{}, ErrNotFound
	}

	kind, err := svc.Toggle(ctx, "u1", post42, KindLove)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if kind == nil || *kind != KindLove {
		t.Errorf("Got kind %v, want love", kind)
	}
	got, _ := counters.Get(ctx, post42)
	if diff := cmp.Diff(Counts{KindLove: 1}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Toggle_counterFailureRebuildsFromRecords(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	counters.failApply = errors.New("redis down")

	kind, err := svc.Toggle(ctx, "u1", post42, KindFire)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if kind == nil || *kind != KindFire {
		t.Errorf("Got kind %v, want fire", kind)
	}
	got, _ := counters.Get(ctx, post42)
	if diff := cmp.Diff(Counts{KindFire: 1}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch after rebuild (-want +got):\n%s", diff)
	}
}

func TestService_Toggle_counterAndRebuildFailure(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	counters.failApply = errors.New("redis down")
	counters.failRebuild = errors.New("redis down")

	_, err := svc.Toggle(ctx, "u1", post42, KindFire)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Got error %v, want ErrStoreUnavailable", err)
	}
}

func TestService_MyReaction_unauthenticated(t *testing.T) {
	svc := newTestService(t, newMemStore(), newMemCounters())
	if _, err := svc.MyReaction(context.Background(), "", post42); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Got error %v, want ErrUnauthenticated", err)
	}
}

func TestService_Reconcile(t *testing.T) {
	store := newMemStore()
	counters := newMemCounters()
	svc := newTestService(t, store, counters)
	ctx := context.Background()

	store.recs[recKey("u1", post42)] = Record{UserID: "u1", Target: post42, Kind: KindLike}
	store.recs[recKey("u2", post42)] = Record{UserID: "u2", Target: post42, Kind: KindLike}
	counters.bump(post42, KindLike, 5) // drifted

	if err := svc.Reconcile(ctx, post42); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got, _ := counters.Get(ctx, post42)
	if diff := cmp.Diff(Counts{KindLike: 2}, nonZero(got)); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}
