package compute

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
)

// (module (func (export "_start")))
var okModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00,
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}

// (module (func (export "_start") unreachable))
var trapModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00,
	0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b,
}

// (module
//
//	(import "wasi_snapshot_preview1" "proc_exit" (func (param i32)))
//	(func (export "_start") (call 0 (i32.const 3))))
var exitModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00,
	0x02, 0x24, 0x01,
	0x16, 'w', 'a', 's', 'i', '_', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', '_', 'p', 'r', 'e', 'v', 'i', 'e', 'w', '1',
	0x09, 'p', 'r', 'o', 'c', '_', 'e', 'x', 'i', 't',
	0x00, 0x00,
	0x03, 0x02, 0x01, 0x01,
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x01,
	0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x03, 0x10, 0x00, 0x0b,
}

func newTestRunner(t *testing.T) *Runner {
	r := NewRunner(Options{MaxTasks: 1, Stdout: io.Discard, Stderr: io.Discard})
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestRunSuccess(t *testing.T) {
	r := newTestRunner(t)
	if err := r.Run(context.Background(), okModule); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
}

func TestRunTrap(t *testing.T) {
	r := newTestRunner(t)
	if err := r.Run(context.Background(), trapModule); !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("Expected ErrTaskFailed, got %v", err)
	}
}

func TestRunExitCode(t *testing.T) {
	r := newTestRunner(t)
	err := r.Run(context.Background(), exitModule)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("Expected ErrTaskFailed, got %v", err)
	}
}

func TestRunInvalidModule(t *testing.T) {
	r := newTestRunner(t)
	err := r.Run(context.Background(), []byte("not wasm"))
	if err == nil {
		t.Fatal("Expected an error for an invalid module")
	}
	if errors.Is(err, ErrTaskFailed) {
		t.Fatalf("A module that does not compile should not be reported as a failed run: %v", err)
	}
}

func TestRunConcurrent(t *testing.T) {
	r := newTestRunner(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Run(context.Background(), okModule)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}
}
