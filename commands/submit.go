package commands

import (
	"context"
	"os"
	"pyrite/config"
	"pyrite/datamodel/task"
	"pyrite/oid"
	"time"

	log "github.com/sirupsen/logrus"
)

// SubmitModule stores the module and records it in the task log. Submitting
// the same module again leaves its record untouched unless it was removed.
func SubmitModule(store task.ModuleStore, idx task.TaskIndex, data []byte) (*task.RecordWithSeq, error) {
	m := &task.Module{
		Oid:    *oid.ForModule(data),
		Length: uint64(len(data)),
		Data:   data,
	}

	o, err := store.Put(m)
	if err != nil {
		return nil, err
	}

	if existing, err := idx.GetByOid(o); err == nil && existing.Record.State != task.StateRemoved {
		return existing, nil
	}

	return idx.Put(&task.Record{
		Oid:        *o,
		Length:     m.Length,
		SubmitTime: time.Now(),
		State:      task.StateSubmitted,
	})
}

func RunSubmit(ctx context.Context, cfg *config.Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read module: %v", err)
	}

	fs, idx, err := openStores(cfg)
	if err != nil {
		log.Fatalf("Failed to open datastore: %v", err)
	}
	defer fs.Close()
	defer idx.Close()

	rec, err := SubmitModule(fs, idx, data)
	if err != nil {
		log.Fatalf("Failed to submit module: %v", err)
	}

	log.Infof("Submitted %s (%d bytes), seq: %d, state: %s", rec.Record.Oid.String(), rec.Record.Length, rec.Sequence, rec.Record.State)
}
