// Package compute runs task modules in a WebAssembly sandbox.
package compute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"pyrite/oid"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

var ErrTaskFailed = errors.New("task failed")

// Options are the compute settings from the node configuration. MaxTasks and
// AllowNetworking are informational, the runner does not enforce them.
type Options struct {
	MaxTasks        uint8
	AllowFileIO     bool
	AllowNetworking bool

	// Directory mounted as "/" when AllowFileIO is set
	WorkDir string

	Stdout io.Writer
	Stderr io.Writer
}

type Runner struct {
	opts  Options
	cache wazero.CompilationCache
	sg    singleflight.Group
}

func NewRunner(opts Options) *Runner {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}

	log.Debugf("compute: max_tasks=%d allow_file_io=%t allow_networking=%t", opts.MaxTasks, opts.AllowFileIO, opts.AllowNetworking)

	return &Runner{
		opts:  opts,
		cache: wazero.NewCompilationCache(),
	}
}

// Run executes the module's WASI entry point and reports whether it succeeded.
// Concurrent runs of the same module share a single execution.
func (r *Runner) Run(ctx context.Context, module []byte) error {
	key := oid.ForModule(module).String()

	_, err, shared := r.sg.Do(key, func() (interface{}, error) {
		return nil, r.run(ctx, module)
	})
	if shared {
		log.Debugf("compute: run of %s was shared", key)
	}
	return err
}

func (r *Runner) run(ctx context.Context, module []byte) error {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(r.cache))
	defer rt.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, module)
	if err != nil {
		return fmt.Errorf("failed to compile module: %w", err)
	}

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("task").
		WithStdout(r.opts.Stdout).
		WithStderr(r.opts.Stderr)
	if r.opts.AllowFileIO {
		cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(r.opts.WorkDir, "/"))
	}

	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				return nil
			}
			return fmt.Errorf("%w: exit code %d", ErrTaskFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %v", ErrTaskFailed, err)
	}

	return mod.Close(ctx)
}

func (r *Runner) Close(ctx context.Context) error {
	return r.cache.Close(ctx)
}
