package commands

import (
	"context"
	"pyrite/config"
	"pyrite/datamodel/task"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunInfo lists the task log. A non-zero seq shows only the log entry with that sequence number.
func RunInfo(ctx context.Context, cfg *config.Config, seq uint64) {
	fs, idx, err := openStores(cfg)
	if err != nil {
		log.Fatalf("Failed to open datastore: %v", err)
	}
	defer fs.Close()
	defer idx.Close()

	if seq != 0 {
		r, err := idx.GetBySeq(seq)
		if err != nil {
			log.Fatalf("Failed to get task log entry %d: %v", seq, err)
		}
		logRecord(r)
		return
	}

	log.Infof("UDP port %d, %d known peers", cfg.Network.UDPPort, len(cfg.Network.KnownPeers))
	for _, p := range cfg.Network.KnownPeers {
		log.Infof("  %s", p)
	}

	modules, err := fs.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate module store: %v", err)
		return
	}
	log.Infof("Module store: %d modules", len(modules))

	records, err := idx.EnumerateBySeq(0, idx.GetSeq()+1)
	if err != nil {
		log.Errorf("Failed to enumerate task index: %v", err)
		return
	}

	log.Infof("Task index: %d records, seq: %d", len(records), idx.GetSeq())
	for _, r := range records {
		logRecord(r)
	}
}

func logRecord(r *task.RecordWithSeq) {
	log.Infof("Task: %s, seq: %d, len: %d, state: %s, submitted: %v",
		r.Record.Oid.String(), r.Sequence, r.Record.Length, r.Record.State, r.Record.SubmitTime.Format(time.RFC3339))
	if r.Record.Error != "" {
		log.Infof("  last error: %s", r.Record.Error)
	}
}
