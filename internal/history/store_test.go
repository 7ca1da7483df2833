package history

import (
	"testing"
)

func TestAppendAndGet(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	off0, skipped, err := store.Append("first message")
	if err != nil || skipped {
		t.Fatalf("append: err=%v skipped=%v", err, skipped)
	}
	off1, skipped, err := store.Append("second message")
	if err != nil || skipped {
		t.Fatalf("append: err=%v skipped=%v", err, skipped)
	}
	if off0 != 0 || off1 != 1 {
		t.Fatalf("got offsets %d, %d", off0, off1)
	}

	entry, err := store.Get(store.LogID(), off1)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Text != "second message" {
		t.Fatalf("got %+v", entry)
	}

	count, err := store.EntryCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("got count %d", count)
	}
}

func TestGetWithStaleLogIDReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Append("hello"); err != nil {
		t.Fatal(err)
	}

	entry, err := store.Get(store.LogID()+1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry for stale log id, got %+v", entry)
	}
}

func TestSensitiveAppendIsSkipped(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	_, skipped, err := store.Append("my key is sk-abcdefghijklmnopqrstuvwxyz")
	if err != nil {
		t.Fatal(err)
	}
	if !skipped {
		t.Fatal("expected sensitive text to be skipped")
	}

	count, err := store.EntryCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected nothing persisted, got count %d", count)
	}
}

func TestGetMissingOffsetReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Append("only entry"); err != nil {
		t.Fatal(err)
	}

	entry, err := store.Get(store.LogID(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatalf("expected nil for out-of-range offset, got %+v", entry)
	}
}
