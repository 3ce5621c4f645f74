package flatfs

import (
	"errors"
	"os"
	"path/filepath"
	"pyrite/datamodel/task"
	"pyrite/oid"
	"testing"
)

func newModule(data string) *task.Module {
	return &task.Module{
		Oid:    *oid.ForModule([]byte(data)),
		Length: uint64(len(data)),
		Data:   []byte(data),
	}
}

func TestPutGetDelete(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	m := newModule("\x00asm module bytes")
	o, err := fs.Put(m)
	if err != nil {
		t.Fatal(err)
	}
	if !o.Equal(&m.Oid) {
		t.Fatalf("Put returned %s, expected %s", o.String(), m.Oid.String())
	}

	has, err := fs.Has(o)
	if err != nil || !has {
		t.Fatalf("Has: %v, %v", has, err)
	}

	got, err := fs.Get(o)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != string(m.Data) || got.Length != m.Length {
		t.Fatalf("Module mismatch: %q (%d)", got.Data, got.Length)
	}

	oids, err := fs.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(oids) != 1 || !oids[0].Equal(o) {
		t.Fatalf("Unexpected enumeration: %v", oids)
	}

	if err := fs.Delete(o); err != nil {
		t.Fatal(err)
	}
	if err := fs.Delete(o); err != nil {
		t.Fatalf("Deleting a missing module should succeed: %v", err)
	}
	has, err = fs.Has(o)
	if err != nil || has {
		t.Fatalf("Has after delete: %v, %v", has, err)
	}
}

func TestPutRejectsMismatchedOid(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	m := newModule("one")
	m.Data = []byte("two")
	if _, err := fs.Put(m); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("Expected ErrCorrupted, got %v", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	m := newModule("original")
	if _, err := fs.Put(m); err != nil {
		t.Fatal(err)
	}

	s := m.Oid.String()
	if err := os.WriteFile(filepath.Join(dir, s[:4], s), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Get(&m.Oid); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("Expected ErrCorrupted, got %v", err)
	}
}
