package update

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
)

func newStore(t *testing.T) store.IDocStore {
	t.Helper()
	s := lstore.NewLocalStore(func() docdb.DocDB { return maple.NewMapleDB(nil) })
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// faultStore wraps a store and runs a hook before every CompareAndSwap.
// A hook returning an error replaces the result of the call.
type faultStore struct {
	store.IDocStore
	mu    sync.Mutex
	calls int
	hook  func(call int, key string) error
}

func (f *faultStore) CompareAndSwap(key string, expected store.Version, fields store.Fields, d store.Durability) (store.Version, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.hook != nil {
		if err := f.hook(call, key); err != nil {
			return 0, err
		}
	}
	return f.IDocStore.CompareAndSwap(key, expected, fields, d)
}

func (f *faultStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func noSleep(c *Coordinator) *Coordinator {
	c.sleep = func(time.Duration) {}
	return c
}

func TestUpdateMergesAgainstLatestBase(t *testing.T) {
	inner := newStore(t)
	if _, err := inner.Insert("t-k", store.Fields{"a": "0", "b": "0", "c": "0"}, 0, store.Durability{}); err != nil {
		t.Fatal(err)
	}

	// a concurrent writer changes field b before each of the first three commits
	f := &faultStore{IDocStore: inner}
	f.hook = func(call int, key string) error {
		if call > 3 {
			return nil
		}
		doc, _, err := inner.Get(key)
		if err != nil {
			return err
		}
		doc.Fields["b"] = fmt.Sprint(call)
		_, err = inner.Insert(key, doc.Fields, 0, store.Durability{})
		return err
	}

	c := noSleep(NewCoordinator(f, nil))
	res, err := c.Update("t-k", store.Fields{"a": "new"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", res.Attempts)
	}

	doc, _, _ := inner.Get("t-k")
	if doc.Fields["a"] != "new" || doc.Fields["b"] != "3" || doc.Fields["c"] != "0" {
		t.Errorf("Expected merge onto the latest base, got %v", doc.Fields)
	}
	if doc.Version != res.Version {
		t.Errorf("Expected stored version %d to equal result version %d", doc.Version, res.Version)
	}
}

func TestUpdateReplacePolicy(t *testing.T) {
	s := newStore(t)
	if _, err := s.Insert("t-k", store.Fields{"a": "1", "b": "2"}, 0, store.Durability{}); err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(s, &Options{Policy: PolicyReplace})
	if _, err := c.Update("t-k", store.Fields{"a": "x"}); err != nil {
		t.Fatal(err)
	}
	doc, _, _ := s.Get("t-k")
	if len(doc.Fields) != 1 || doc.Fields["a"] != "x" {
		t.Errorf("Expected only the replaced fields, got %v", doc.Fields)
	}
}

func TestUpdateRetryBoundIsExact(t *testing.T) {
	inner := newStore(t)
	if _, err := inner.Insert("t-k", store.Fields{"a": "0"}, 0, store.Durability{}); err != nil {
		t.Fatal(err)
	}
	f := &faultStore{IDocStore: inner, hook: func(int, string) error { return store.ErrVersionConflict }}

	var waits []time.Duration
	c := NewCoordinator(f, &Options{MaxAttempts: 7})
	c.sleep = func(d time.Duration) { waits = append(waits, d) }

	_, err := c.Update("t-k", store.Fields{"a": "1"})
	var abandoned *AbandonedError
	if !errors.As(err, &abandoned) {
		t.Fatalf("Expected AbandonedError, got %v", err)
	}
	if abandoned.Attempts != 7 || abandoned.Key != "t-k" {
		t.Errorf("Unexpected error %+v", abandoned)
	}
	if f.Calls() != 7 {
		t.Errorf("Expected exactly 7 commits, got %d", f.Calls())
	}
	// six retries: no wait for the first two, 1ms for the others
	if len(waits) != 4 {
		t.Fatalf("Expected 4 waits, got %v", waits)
	}
	for _, w := range waits {
		if w != time.Millisecond {
			t.Errorf("Expected 1ms waits, got %v", waits)
			break
		}
	}

	one := NewCoordinator(&faultStore{IDocStore: inner, hook: func(int, string) error { return store.ErrVersionConflict }}, &Options{MaxAttempts: 1})
	if _, err := one.Update("t-k", store.Fields{"a": "1"}); !errors.As(err, &abandoned) || abandoned.Attempts != 1 {
		t.Errorf("Expected to give up after one attempt, got %v", err)
	}
}

func TestTieredBackOff(t *testing.T) {
	b := newTieredBackOff(defaultTiers)
	for i := 1; i <= 60; i++ {
		want := time.Duration(0)
		switch {
		case i > 50:
			want = 5 * time.Millisecond
		case i > 2:
			want = time.Millisecond
		}
		if got := b.NextBackOff(); got != want {
			t.Fatalf("Conflict %d: expected %v, got %v", i, want, got)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 0 {
		t.Errorf("Expected no wait after reset, got %v", got)
	}
}

func TestUpdateWriteFailureIsNotRetried(t *testing.T) {
	inner := newStore(t)
	if _, err := inner.Insert("t-k", store.Fields{"a": "0"}, 0, store.Durability{}); err != nil {
		t.Fatal(err)
	}
	f := &faultStore{IDocStore: inner, hook: func(int, string) error {
		return store.NewError(store.RetCTimeout, "operation timed out")
	}}

	_, err := noSleep(NewCoordinator(f, nil)).Update("t-k", store.Fields{"a": "1"})
	if !errors.Is(err, store.ErrWriteFailed) {
		t.Errorf("Expected write failure, got %v", err)
	}
	if f.Calls() != 1 {
		t.Errorf("Expected a single commit, got %d", f.Calls())
	}

	// the durability check of the store fails before anything is written
	c := NewCoordinator(inner, &Options{Durability: store.Durability{ReplicateTo: 1}})
	if _, err := c.Update("t-k", store.Fields{"a": "1"}); !errors.Is(err, store.ErrWriteFailed) {
		t.Errorf("Expected durability failure, got %v", err)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newStore(t)
	c := NewCoordinator(s, nil)
	if _, err := c.Update("t-missing", store.Fields{"a": "1"}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound, got %v", err)
	}

	// document vanishes between fetch and commit
	if _, err := s.Insert("t-k", store.Fields{"a": "0"}, 0, store.Durability{}); err != nil {
		t.Fatal(err)
	}
	f := &faultStore{IDocStore: s, hook: func(_ int, key string) error { return s.Delete(key) }}
	res, err := NewCoordinator(f, nil).Update("t-k", store.Fields{"a": "1"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Expected one attempt, got %d", res.Attempts)
	}
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	s := newStore(t)
	const writers, rounds = 8, 50

	initial := store.Fields{}
	for w := 0; w < writers; w++ {
		initial[fmt.Sprintf("field%d", w)] = "-1"
	}
	if _, err := s.Insert("t-k", initial, 0, store.Durability{}); err != nil {
		t.Fatal(err)
	}

	c := NewCoordinator(s, &Options{MaxAttempts: 100000, WarnEvery: -1})
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("field%d", w)
			for r := 0; r < rounds; r++ {
				if _, err := c.Update("t-k", store.Fields{name: fmt.Sprint(r)}); err != nil {
					t.Errorf("Update failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	doc, _, _ := s.Get("t-k")
	for w := 0; w < writers; w++ {
		if v := doc.Fields[fmt.Sprintf("field%d", w)]; v != fmt.Sprint(rounds-1) {
			t.Errorf("field%d: expected %d, got %q", w, rounds-1, v)
		}
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from State
		on   Event
		to   State
	}{
		{StateFetch, EventFound, StateMutate},
		{StateFetch, EventMissing, StateNotFound},
		{StateFetch, EventFailed, StateFailed},
		{StateMutate, EventMutated, StateCommit},
		{StateCommit, EventCommitted, StateDone},
		{StateCommit, EventConflict, StateRetry},
		{StateCommit, EventMissing, StateNotFound},
		{StateCommit, EventFailed, StateFailed},
		{StateRetry, EventWaited, StateFetch},
		{StateRetry, EventExhausted, StateGiveUp},
		{StateMutate, EventConflict, StateFailed},
		{StateDone, EventConflict, StateDone},
		{StateGiveUp, EventWaited, StateGiveUp},
	}
	for _, c := range cases {
		if got := transition(c.from, c.on); got != c.to {
			t.Errorf("transition(%s, %d) = %s, want %s", c.from, c.on, got, c.to)
		}
	}
	if StateRetry.Terminal() || !StateGiveUp.Terminal() {
		t.Errorf("Unexpected terminal states")
	}
}
