package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"binledger/internal/core"
	"binledger/internal/docstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrationsTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()
	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s.Close()
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := docstore.Expenses("acct").Child("e1")

	doc := docstore.Document{
		"amount":    "250.00",
		"card":      "card1",
		"createdAt": docstore.ServerTimestamp,
	}
	if err := s.Write(ctx, p, doc); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok, err := s.Read(ctx, p)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if got["amount"] != "250.00" || got["card"] != "card1" {
		t.Fatalf("unexpected document %v", got)
	}
	if core.TimeFromAny(got["createdAt"]).IsZero() {
		t.Fatalf("createdAt not stamped: %v", got["createdAt"])
	}
}

func TestWriteMergeKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := docstore.ProfilePath("acct")

	if err := s.Write(ctx, p, docstore.Document{"customUsername": "alice", "cardNames": map[string]any{"card1": "A"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteMerge(ctx, p, docstore.Document{"cardNames": map[string]any{"card2": "B"}}); err != nil {
		t.Fatal(err)
	}
	got, _, err := s.Read(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	names := got["cardNames"].(map[string]any)
	if got["customUsername"] != "alice" || names["card1"] != "A" || names["card2"] != "B" {
		t.Fatalf("merge lost fields: %v", got)
	}
}

func TestBatchRollsBackOnPrecondition(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	active := docstore.Expenses("acct")
	bin := docstore.RecycleBin("acct")

	if err := s.Write(ctx, active.Child("a"), docstore.Document{"amount": "1"}); err != nil {
		t.Fatal(err)
	}

	err := s.Batch().
		Write(bin.Child("a"), docstore.Document{"amount": "1"}).
		Delete(active.Child("a"), docstore.MustExist).
		Delete(active.Child("ghost"), docstore.MustExist).
		Commit(ctx)
	if !errors.Is(err, docstore.ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}

	if _, ok, _ := s.Read(ctx, active.Child("a")); !ok {
		t.Fatal("active document must survive a failed batch")
	}
	if _, ok, _ := s.Read(ctx, bin.Child("a")); ok {
		t.Fatal("recycled copy must not exist after a failed batch")
	}
}

func TestListAndSubscribe(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	col := docstore.RecycleBin("acct")

	snaps := make(chan docstore.Snapshot, 8)
	unsub, err := s.Subscribe(ctx, col, func(snap docstore.Snapshot) { snaps <- snap }, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	select {
	case snap := <-snaps:
		if len(snap.Docs) != 0 {
			t.Fatalf("expected empty initial snapshot, got %d docs", len(snap.Docs))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	if err := s.Write(ctx, col.Child("b"), docstore.Document{}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-snaps:
			if len(snap.Docs) == 1 && snap.Docs[0].ID == "b" {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot after write")
		}
	}
}

func TestListAllReadsCollectionsTogether(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	active, bin := docstore.Expenses("acct"), docstore.RecycleBin("acct")

	if err := s.Write(ctx, active.Child("a"), docstore.Document{}); err != nil {
		t.Fatal(err)
	}
	err := s.Batch().
		Write(bin.Child("b"), docstore.Document{}).
		Write(active.Child("c"), docstore.Document{}).
		Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	snaps, err := s.ListAll(ctx, active, bin)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Collection != active || len(snaps[0].Docs) != 2 {
		t.Errorf("active snapshot = %s with %d docs", snaps[0].Collection, len(snaps[0].Docs))
	}
	if snaps[1].Collection != bin || len(snaps[1].Docs) != 1 || snaps[1].Docs[0].ID != "b" {
		t.Errorf("bin snapshot = %+v", snaps[1])
	}

	// The read transaction must release the single connection.
	if err := s.Write(ctx, bin.Child("d"), docstore.Document{}); err != nil {
		t.Fatalf("write after ListAll: %v", err)
	}
}

func TestMustNotExist(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := docstore.UsernamePath("alice")
	if err := s.Batch().Write(p, docstore.Document{"accountId": "1"}, docstore.MustNotExist).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	err := s.Batch().Write(p, docstore.Document{"accountId": "2"}, docstore.MustNotExist).Commit(ctx)
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	_, _, err = s.Read(context.Background(), docstore.UsernamePath("x"))
	if !errors.Is(err, docstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
