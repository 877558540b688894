package docstore

import (
	"context"
	"fmt"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp, used as a field value, is replaced by the store clock
// when the write is applied.
var ServerTimestamp any = serverTimestamp{}

// ApplyFunc applies a validated list of mutations atomically.
type ApplyFunc func(ctx context.Context, muts []Mutation) error

type batch struct {
	muts  []Mutation
	err   error
	apply ApplyFunc
}

// NewBatch returns a Batch that hands its mutations to apply on Commit.
// Store implementations use it so path validation and precondition
// bookkeeping behave the same everywhere.
func NewBatch(apply ApplyFunc) Batch {
	return &batch{apply: apply}
}

func (b *batch) add(op Op, p Path, doc Document, pre []Precondition) Batch {
	if b.err != nil {
		return b
	}
	if !p.IsDocument() {
		b.err = fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, p)
		return b
	}
	data := Clone(doc)
	if data == nil && op != OpDelete {
		data = Document{}
	}
	m := Mutation{Op: op, Path: p, Data: data}
	if len(pre) > 0 {
		m.Precondition = pre[0]
	}
	b.muts = append(b.muts, m)
	return b
}

func (b *batch) Write(p Path, doc Document, pre ...Precondition) Batch {
	return b.add(OpWrite, p, doc, pre)
}

func (b *batch) WriteMerge(p Path, partial Document, pre ...Precondition) Batch {
	return b.add(OpMerge, p, partial, pre)
}

func (b *batch) Delete(p Path, pre ...Precondition) Batch {
	return b.add(OpDelete, p, nil, pre)
}

func (b *batch) Mutations() []Mutation {
	return append([]Mutation(nil), b.muts...)
}

func (b *batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.muts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.apply(ctx, b.muts)
}

// PreconditionError names the document whose precondition aborted a batch.
// It unwraps to ErrNoDocument or ErrAlreadyExists.
type PreconditionError struct {
	Path Path
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Path)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// CheckPrecondition reports whether a mutation may apply given whether its
// target currently exists.
func CheckPrecondition(m Mutation, exists bool) error {
	switch m.Precondition {
	case MustExist:
		if !exists {
			return &PreconditionError{Path: m.Path, Err: ErrNoDocument}
		}
	case MustNotExist:
		if exists {
			return &PreconditionError{Path: m.Path, Err: ErrAlreadyExists}
		}
	}
	return nil
}

// Resolve returns the document a mutation leaves behind given the current
// one, or nil for a delete.
func Resolve(m Mutation, current Document, now time.Time) Document {
	switch m.Op {
	case OpDelete:
		return nil
	case OpMerge:
		base := Clone(current)
		if base == nil {
			base = Document{}
		}
		return Merge(base, ResolveTimestamps(m.Data, now))
	default:
		return ResolveTimestamps(m.Data, now)
	}
}

// Collections returns the distinct collections touched by muts.
func Collections(muts []Mutation) []Path {
	seen := make(map[Path]struct{}, len(muts))
	out := make([]Path, 0, len(muts))
	for _, m := range muts {
		c := m.Path.Parent()
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Clone deep-copies a document.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}

// Merge deep-merges src into dst and returns dst. Nested maps merge key by
// key; every other value replaces the existing one.
func Merge(dst, src Document) Document {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				dst[k] = Merge(Clone(existing), sub)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
	return dst
}

// ResolveTimestamps returns a copy of doc with every ServerTimestamp replaced by now.
func ResolveTimestamps(doc Document, now time.Time) Document {
	out := Clone(doc)
	for k, v := range out {
		switch x := v.(type) {
		case serverTimestamp:
			out[k] = now
		case map[string]any:
			out[k] = ResolveTimestamps(x, now)
		}
	}
	return out
}
