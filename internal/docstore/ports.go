// Package docstore defines the document store the services persist to: a
// tree of collections and documents addressed by slash-separated paths,
// atomic multi-document batches with existence preconditions, and live
// collection subscriptions that always deliver complete snapshots.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUnavailable      = errors.New("docstore: unavailable")
	ErrPermissionDenied = errors.New("docstore: permission denied")
	ErrNoDocument       = errors.New("docstore: document does not exist")
	ErrAlreadyExists    = errors.New("docstore: document already exists")
	ErrInvalidPath      = errors.New("docstore: invalid path")
)

// Document is the body of a stored document. Values are strings, numbers,
// booleans, timestamps, nested Documents or map[string]any.
type Document = map[string]any

// Op names a store operation, used by fault hooks and access rules.
type Op string

const (
	OpRead   Op = "read"
	OpList   Op = "list"
	OpWrite  Op = "write"
	OpMerge  Op = "merge"
	OpDelete Op = "delete"
)

// Precondition guards a single mutation inside a batch.
type Precondition int

const (
	NoPrecondition Precondition = iota
	MustExist
	MustNotExist
)

// Mutation is one queued write of a batch.
type Mutation struct {
	Op           Op
	Path         Path
	Data         Document
	Precondition Precondition
}

// Snap is one document of a snapshot.
type Snap struct {
	ID        string
	Path      Path
	Data      Document
	UpdatedAt time.Time
}

// Snapshot is the complete content of a collection at ReadAt, ordered by ID.
type Snapshot struct {
	Collection Path
	Docs       []Snap
	ReadAt     time.Time
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the document store collaborator.
type Store interface {
	// Read returns the document at p and whether it exists.
	Read(ctx context.Context, p Path) (Document, bool, error)
	// Write replaces the document at p.
	Write(ctx context.Context, p Path, doc Document) error
	// WriteMerge deep-merges partial into the document at p, creating it if absent.
	WriteMerge(ctx context.Context, p Path, partial Document) error
	// Delete removes the document at p. Deleting a missing document succeeds.
	Delete(ctx context.Context, p Path) error
	// List returns a snapshot of a collection.
	List(ctx context.Context, collection Path) (Snapshot, error)
	// ListAll returns snapshots of several collections taken between the
	// same two commits, in the order given.
	ListAll(ctx context.Context, collections ...Path) ([]Snapshot, error)
	// Subscribe delivers an initial snapshot of collection and a fresh
	// complete snapshot after every change to it, until unsubscribed or ctx
	// is done. onSnapshot and onError are never called concurrently.
	Subscribe(ctx context.Context, collection Path, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error)
	// Batch starts an atomic batch: all queued mutations apply or none do.
	Batch() Batch
	// NewID returns a fresh document id.
	NewID() string
	Close() error
}

// Toucher is implemented by stores that can be told a collection changed
// outside this process, forcing subscribers to re-read it.
type Toucher interface {
	Touch(ctx context.Context, collections ...Path) error
}

// Batch queues mutations and applies them atomically on Commit.
type Batch interface {
	Write(p Path, doc Document, pre ...Precondition) Batch
	WriteMerge(p Path, partial Document, pre ...Precondition) Batch
	Delete(p Path, pre ...Precondition) Batch
	Mutations() []Mutation
	Commit(ctx context.Context) error
}

// Path addresses a collection (odd number of segments) or a document (even).
type Path string

func Join(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

func (p Path) String() string {
	return string(p)
}

func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

func (p Path) IsDocument() bool {
	segs := p.Segments()
	if len(segs) == 0 || len(segs)%2 != 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}

func (p Path) IsCollection() bool {
	segs := p.Segments()
	if len(segs)%2 != 1 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}

// Parent returns the collection containing document p.
func (p Path) Parent() Path {
	i := strings.LastIndex(string(p), "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// ID returns the last segment of p.
func (p Path) ID() string {
	i := strings.LastIndex(string(p), "/")
	return string(p[i+1:])
}

func (p Path) Child(id string) Path {
	return p + "/" + Path(id)
}

// Collections of the ledger and identity data.
const (
	colAccounts   = "accounts"
	colExpenses   = "expenses"
	colRecycleBin = "recycleBin"
	colSettings   = "settings"
	colUsernames  = "usernames"
	colAuth       = "auth"
)

func Expenses(accountID string) Path {
	return Join(colAccounts, accountID, colExpenses)
}

func RecycleBin(accountID string) Path {
	return Join(colAccounts, accountID, colRecycleBin)
}

func Settings(accountID string) Path {
	return Join(colAccounts, accountID, colSettings)
}

func ProfilePath(accountID string) Path {
	return Settings(accountID).Child("profile")
}

func UsernameChangePath(accountID string) Path {
	return Settings(accountID).Child("usernameChange")
}

func Usernames() Path {
	return colUsernames
}

func UsernamePath(key string) Path {
	return Usernames().Child(key)
}

func AuthAccounts() Path {
	return Join(colAuth, "providers", "accounts")
}

func AuthEmails() Path {
	return Join(colAuth, "providers", "emails")
}

func AuthExternal() Path {
	return Join(colAuth, "providers", "external")
}
