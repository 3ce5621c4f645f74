package commands

import (
	"context"
	"pyrite/config"
	"pyrite/datamodel/task"
	"pyrite/oid"

	log "github.com/sirupsen/logrus"
)

// RemoveModule deletes the module from the store. Its record stays in the task
// log, marked as removed.
func RemoveModule(store task.ModuleStore, idx task.TaskIndex, o *oid.Oid) (*task.RecordWithSeq, error) {
	existing, err := idx.GetByOid(o)
	if err != nil {
		return nil, err
	}

	if err := store.Delete(o); err != nil {
		return nil, err
	}

	rec := *existing.Record
	rec.State = task.StateRemoved

	return idx.Put(&rec)
}

func RunRemove(ctx context.Context, cfg *config.Config, oidStr string) {
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

	rec, err := RemoveModule(fs, idx, o)
	if err != nil {
		log.Fatalf("Failed to remove %s: %v", o.String(), err)
	}
	log.Infof("Removed %s, seq: %d", o.String(), rec.Sequence)
}
