package commands

import (
	"context"
	"errors"
	"pyrite/compute"
	"pyrite/config"
	"pyrite/datamodel/task"
	"pyrite/oid"
	"time"

	log "github.com/sirupsen/logrus"
)

// ExecuteTask runs a stored module and records the outcome. A module that
// ran and failed is recorded as failed and is not an error.
func ExecuteTask(ctx context.Context, runner *compute.Runner, store task.ModuleStore, idx task.TaskIndex, o *oid.Oid) (*task.RecordWithSeq, error) {
	m, err := store.Get(o)
	if err != nil {
		return nil, err
	}

	var rec task.Record
	if existing, err := idx.GetByOid(o); err == nil {
		rec = *existing.Record
	} else {
		rec = task.Record{Oid: *o, Length: m.Length, SubmitTime: time.Now()}
	}

	err = runner.Run(ctx, m.Data)
	switch {
	case err == nil:
		rec.State = task.StateSucceeded
		rec.Error = ""
	case errors.Is(err, compute.ErrTaskFailed):
		rec.State = task.StateFailed
		rec.Error = err.Error()
	default:
		return nil, err
	}
	rec.RunTime = time.Now()

	return idx.Put(&rec)
}

func RunTask(ctx context.Context, cfg *config.Config, oidStr string) {
	o, err := oid.FromString(oidStr)
	if err != nil {
		log.Fatalf("Invalid OID: %v", err)
	}

	fs, idx, err := openStores(cfg)
	if err != nil {
		log.Fatalf("Failed to open datastore: %v", err)
	}
	defer fs.Close()
	defer idx.Close()

	runner := compute.NewRunner(compute.Options{
		MaxTasks:        cfg.Compute.MaxTasks,
		AllowFileIO:     cfg.Compute.AllowFileIO,
		AllowNetworking: cfg.Compute.AllowNetworking,
	})
	defer runner.Close(ctx)

	rec, err := ExecuteTask(ctx, runner, fs, idx, o)
	if err != nil {
		log.Fatalf("Failed to run %s: %v", o.String(), err)
	}

	if rec.Record.State == task.StateFailed {
		log.Errorf("Task %s failed: %s", o.String(), rec.Record.Error)
		return
	}
	log.Infof("Task %s %s, seq: %d", o.String(), rec.Record.State, rec.Sequence)
}
