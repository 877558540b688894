// Package memory is an in-process document store. It is the default
// backend for local runs and the store every service test runs against.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"binledger/internal/docstore"

	"github.com/rs/xid"
)

// FaultFunc is consulted before every operation; a non-nil error aborts it.
// Inside a batch a fault on any mutation aborts the whole batch.
type FaultFunc func(op docstore.Op, p docstore.Path) error

type entry struct {
	data    docstore.Document
	updated time.Time
}

type Store struct {
	mu     sync.Mutex
	docs   map[docstore.Path]entry
	clock  func() time.Time
	fault  FaultFunc
	closed bool
	hub    *docstore.Hub

	commits int
}

type Option func(*Store)

// WithClock overrides the clock used for server timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:  make(map[docstore.Path]entry),
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = docstore.NewHub(s.List)
	return s
}

// SetFault installs (or, with nil, clears) a fault hook.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Commits returns how many batches have been applied.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) precheck(op docstore.Op, p docstore.Path) error {
	if s.closed {
		return docstore.ErrUnavailable
	}
	if s.fault != nil {
		return s.fault(op, p)
	}
	return nil
}

func (s *Store) Read(_ context.Context, p docstore.Path) (docstore.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.precheck(docstore.OpRead, p); err != nil {
		return nil, false, err
	}
	e, ok := s.docs[p]
	if !ok {
		return nil, false, nil
	}
	return docstore.Clone(e.data), true, nil
}

func (s *Store) List(_ context.Context, collection docstore.Path) (docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(collection)
}

func (s *Store) ListAll(_ context.Context, collections ...docstore.Path) ([]docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]docstore.Snapshot, 0, len(collections))
	for _, c := range collections {
		snap, err := s.listLocked(c)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *Store) listLocked(collection docstore.Path) (docstore.Snapshot, error) {
	if err := s.precheck(docstore.OpList, collection); err != nil {
		return docstore.Snapshot{}, err
	}
	snap := docstore.Snapshot{Collection: collection, ReadAt: s.clock()}
	for p, e := range s.docs {
		if p.Parent() != collection {
			continue
		}
		snap.Docs = append(snap.Docs, docstore.Snap{
			ID:        p.ID(),
			Path:      p,
			Data:      docstore.Clone(e.data),
			UpdatedAt: e.updated,
		})
	}
	sort.Slice(snap.Docs, func(i, j int) bool { return snap.Docs[i].ID < snap.Docs[j].ID })
	return snap, nil
}

func (s *Store) Write(ctx context.Context, p docstore.Path, doc docstore.Document) error {
	return s.Batch().Write(p, doc).Commit(ctx)
}

func (s *Store) WriteMerge(ctx context.Context, p docstore.Path, partial docstore.Document) error {
	return s.Batch().WriteMerge(p, partial).Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, p docstore.Path) error {
	return s.Batch().Delete(p).Commit(ctx)
}

func (s *Store) Batch() docstore.Batch {
	return docstore.NewBatch(s.apply)
}

// apply stages every mutation against a private overlay and publishes the
// overlay only when all of them succeed.
func (s *Store) apply(_ context.Context, muts []docstore.Mutation) error {
	s.mu.Lock()
	now := s.clock()
	staged := make(map[docstore.Path]*entry, len(muts))
	lookup := func(p docstore.Path) (docstore.Document, bool) {
		if e, ok := staged[p]; ok {
			if e == nil {
				return nil, false
			}
			return e.data, true
		}
		e, ok := s.docs[p]
		return e.data, ok
	}

	for _, m := range muts {
		if err := s.precheck(m.Op, m.Path); err != nil {
			s.mu.Unlock()
			return err
		}
		current, exists := lookup(m.Path)
		if err := docstore.CheckPrecondition(m, exists); err != nil {
			s.mu.Unlock()
			return err
		}
		next := docstore.Resolve(m, current, now)
		if next == nil {
			staged[m.Path] = nil
			continue
		}
		staged[m.Path] = &entry{data: next, updated: now}
	}

	for p, e := range staged {
		if e == nil {
			delete(s.docs, p)
			continue
		}
		s.docs[p] = *e
	}
	s.commits++
	s.mu.Unlock()

	s.hub.Notify(docstore.Collections(muts)...)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection docstore.Path, onSnapshot func(docstore.Snapshot), onError func(error)) (docstore.Unsubscribe, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, docstore.ErrUnavailable
	}
	return s.hub.Subscribe(ctx, collection, onSnapshot, onError)
}

// Subscribers reports live subscriptions on collection.
func (s *Store) Subscribers(collection docstore.Path) int {
	return s.hub.Subscribers(collection)
}

func (s *Store) Touch(_ context.Context, collections ...docstore.Path) error {
	s.hub.Notify(collections...)
	return nil
}

func (s *Store) NewID() string {
	return xid.New().String()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}
