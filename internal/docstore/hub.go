package docstore

import (
	"context"
	"fmt"
	"sync"
)

// Lister reads a full collection snapshot. Stores pass their own List.
type Lister func(ctx context.Context, collection Path) (Snapshot, error)

// Hub fans collection changes out to subscribers. Every delivery is a
// complete snapshot read after the change; notifications that arrive while
// a subscriber is still busy are coalesced into one re-read.
type Hub struct {
	mu     sync.Mutex
	list   Lister
	subs   map[Path]map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(list Lister) *Hub {
	return &Hub{
		list: list,
		subs: make(map[Path]map[uint64]*subscriber),
	}
}

// Subscribe registers a subscriber and schedules its initial snapshot.
func (h *Hub) Subscribe(ctx context.Context, collection Path, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if !collection.IsCollection() {
		return nil, fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, collection)
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("docstore: subscribe %s: nil snapshot callback", collection)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrUnavailable
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscriber{
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.wake <- struct{}{}
	id := h.nextID
	h.nextID++
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[uint64]*subscriber)
	}
	h.subs[collection][id] = s
	h.mu.Unlock()

	go h.run(subCtx, collection, s, onSnapshot, onError)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[collection], id)
			if len(h.subs[collection]) == 0 {
				delete(h.subs, collection)
			}
			h.mu.Unlock()
			cancel()
		})
	}

	// The parent context ending also ends the subscription.
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-s.done:
		}
	}()

	return unsubscribe, nil
}

func (h *Hub) run(ctx context.Context, collection Path, s *subscriber, onSnapshot func(Snapshot), onError func(error)) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		snap, err := h.list(ctx, collection)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		onSnapshot(snap)
	}
}

// Notify schedules a fresh snapshot for every subscriber of collections.
func (h *Hub) Notify(collections ...Path) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range collections {
		for _, s := range h.subs[c] {
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribers returns the number of live subscriptions on collection.
func (h *Hub) Subscribers(collection Path) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Path]map[uint64]*subscriber)
	h.closed = true
	h.mu.Unlock()
	for _, byID := range subs {
		for _, s := range byID {
			s.cancel()
		}
	}
}
