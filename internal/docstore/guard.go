package docstore

import (
	"context"
	"fmt"
)

type actorKey struct{}

const systemActor = "\x00system"

// WithActor scopes ctx to the signed-in account accountID.
func WithActor(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, actorKey{}, accountID)
}

// WithSystem marks ctx as trusted server-internal access.
func WithSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, actorKey{}, systemActor)
}

// ActorFrom returns the account ctx acts for, if any.
func ActorFrom(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(actorKey{}).(string)
	if !ok || a == "" || a == systemActor {
		return "", false
	}
	return a, true
}

func isSystem(ctx context.Context) bool {
	a, _ := ctx.Value(actorKey{}).(string)
	return a == systemActor
}

// Guard enforces the access rules of the data model on top of a Store:
//
//	accounts/{id}/...  only the actor id
//	usernames/{key}    readable by anyone; writes need a signed-in actor
//	                   that owns both the stored and the written record
//	auth/...           system only
//
// Denied operations fail with ErrPermissionDenied.
type Guard struct {
	inner Store
}

func NewGuard(inner Store) *Guard {
	return &Guard{inner: inner}
}

// Unwrap returns the guarded store.
func (g *Guard) Unwrap() Store {
	return g.inner
}

func (g *Guard) check(ctx context.Context, m Mutation) error {
	op, p := m.Op, m.Path
	if isSystem(ctx) {
		return nil
	}
	segs := p.Segments()
	if len(segs) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	actor, signedIn := ActorFrom(ctx)

	switch segs[0] {
	case colAccounts:
		if len(segs) < 2 || !signedIn || segs[1] != actor {
			return g.deny(op, p)
		}
		return nil
	case colUsernames:
		if op == OpRead || op == OpList {
			return nil
		}
		if !signedIn {
			return g.deny(op, p)
		}
		if owner, ok := m.Data[fieldAccountID].(string); ok && owner != actor {
			return g.deny(op, p)
		}
		current, exists, err := g.inner.Read(ctx, p)
		if err != nil {
			return err
		}
		if exists {
			if m.Precondition == MustNotExist {
				return CheckPrecondition(m, true)
			}
			if owner, _ := current[fieldAccountID].(string); owner != actor {
				return g.deny(op, p)
			}
		}
		return nil
	default:
		return g.deny(op, p)
	}
}

// fieldAccountID mirrors the owner field of username records.
const fieldAccountID = "accountId"

func (g *Guard) deny(op Op, p Path) error {
	return fmt.Errorf("%w: %s %s", ErrPermissionDenied, op, p)
}

func (g *Guard) Read(ctx context.Context, p Path) (Document, bool, error) {
	if err := g.check(ctx, Mutation{Op: OpRead, Path: p}); err != nil {
		return nil, false, err
	}
	return g.inner.Read(ctx, p)
}

func (g *Guard) Write(ctx context.Context, p Path, doc Document) error {
	return g.Batch().Write(p, doc).Commit(ctx)
}

func (g *Guard) WriteMerge(ctx context.Context, p Path, partial Document) error {
	return g.Batch().WriteMerge(p, partial).Commit(ctx)
}

func (g *Guard) Delete(ctx context.Context, p Path) error {
	return g.Batch().Delete(p).Commit(ctx)
}

func (g *Guard) List(ctx context.Context, collection Path) (Snapshot, error) {
	if err := g.check(ctx, Mutation{Op: OpList, Path: collection}); err != nil {
		return Snapshot{}, err
	}
	return g.inner.List(ctx, collection)
}

func (g *Guard) ListAll(ctx context.Context, collections ...Path) ([]Snapshot, error) {
	for _, c := range collections {
		if err := g.check(ctx, Mutation{Op: OpList, Path: c}); err != nil {
			return nil, err
		}
	}
	return g.inner.ListAll(ctx, collections...)
}

func (g *Guard) Subscribe(ctx context.Context, collection Path, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if err := g.check(ctx, Mutation{Op: OpList, Path: collection}); err != nil {
		return nil, err
	}
	return g.inner.Subscribe(ctx, collection, onSnapshot, onError)
}

func (g *Guard) Batch() Batch {
	return NewBatch(func(ctx context.Context, muts []Mutation) error {
		inner := g.inner.Batch()
		for _, m := range muts {
			if err := g.check(ctx, m); err != nil {
				return err
			}
			switch m.Op {
			case OpDelete:
				inner.Delete(m.Path, m.Precondition)
			case OpMerge:
				inner.WriteMerge(m.Path, m.Data, m.Precondition)
			default:
				inner.Write(m.Path, m.Data, m.Precondition)
			}
		}
		return inner.Commit(ctx)
	})
}

func (g *Guard) NewID() string {
	return g.inner.NewID()
}

// Touch forwards to the guarded store when it supports it.
func (g *Guard) Touch(ctx context.Context, collections ...Path) error {
	if t, ok := g.inner.(Toucher); ok {
		return t.Touch(ctx, collections...)
	}
	return nil
}

func (g *Guard) Close() error {
	return g.inner.Close()
}
