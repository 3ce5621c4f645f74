package leveldb

import (
	"fmt"
	"pyrite/datamodel/task"
	"pyrite/oid"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	keyPrefixOID = "OID" // Task record indexed by module OID. Followed by textual OID representation
	keyPrefixSeq = "SEQ" // Task record indexed by Sequence number (local). Followed by a 16-digit hexadecimal sequence number (64 bit)
)

var _ task.TaskIndex = (*TaskIndex)(nil)

// ErrNotFound is returned when no record exists for a key
var ErrNotFound = errors.ErrNotFound

type TaskIndex struct {
	LevelDB
	seq uint64
}

func NewTaskIndex(path string) (*TaskIndex, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	// Scan the database to identify the sequence
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixSeq)), nil)
	defer iter.Release()

	var maxSeq uint64 = 0
	if iter.Last() {
		seq, err := seqFromKey(iter.Key())
		if err != nil {
			ldb.Close()
			return nil, err
		}
		maxSeq = seq
	}

	return &TaskIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
		seq: maxSeq,
	}, nil
}

func (l *TaskIndex) get(key []byte) (*task.RecordWithSeq, error) {
	raw, err := l.db.Get(key, nil)
	if err != nil {
		return nil, err
	}

	rec := &task.RecordWithSeq{}
	if err := cbor.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	if rec.Record == nil {
		return nil, ErrCorrupted
	}
	return rec, nil
}

func (l *TaskIndex) GetByOid(oid *oid.Oid) (*task.RecordWithSeq, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(keyFromOid(oid))
	if err != nil {
		return nil, err
	}

	// Compare the OID just in case
	if !rec.Record.Oid.Equal(oid) {
		log.Errorf("GetByOid: OID mismatch: %s != %s", oid.String(), rec.Record.Oid.String())
		return nil, ErrCorrupted
	}

	return rec, nil
}

func (l *TaskIndex) GetBySeq(seq uint64) (*task.RecordWithSeq, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(keyFromSeq(seq))
	if err != nil {
		return nil, err
	}

	// Compare the Sequence Number just in case
	if rec.Sequence != seq {
		log.Errorf("GetBySeq: Sequence Number mismatch: %d != %d", seq, rec.Sequence)
		return nil, ErrCorrupted
	}

	return rec, nil
}

func (l *TaskIndex) Put(record *task.Record) (*task.RecordWithSeq, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oid := &record.Oid

	existing, err := l.get(keyFromOid(oid))
	if err != nil && err != errors.ErrNotFound {
		return nil, err
	}
	if err == nil && task.IsRecordEqual(existing.Record, record) {
		log.Debugf("Put: record for OID %s is unchanged, skipping update", oid.String())
		return existing, nil
	}

	// Create the new sequence number
	newSeq := l.seq + 1

	rec := &task.RecordWithSeq{
		Sequence: newSeq,
		Record:   record,
	}

	raw, err := encMode.Marshal(rec)
	if err != nil {
		return nil, err
	}

	// Insert OID -> Record and Seq -> Record atomically
	batch := new(leveldb.Batch)
	batch.Put(keyFromOid(oid), raw)
	batch.Put(keyFromSeq(newSeq), raw)

	if err := l.db.Write(batch, nil); err != nil {
		return nil, err
	}

	l.seq = newSeq

	return rec, nil
}

func (l *TaskIndex) Has(oid *oid.Oid) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Has(keyFromOid(oid), nil)
}

func (l *TaskIndex) EnumerateBySeq(start uint64, end uint64) ([]*task.RecordWithSeq, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if start > end {
		return nil, fmt.Errorf("EnumerateBySeq: invalid range: start (%d) > end (%d)", start, end)
	}

	var results []*task.RecordWithSeq

	iter := l.db.NewIterator(&util.Range{Start: keyFromSeq(start), Limit: keyFromSeq(end)}, nil)
	defer iter.Release()

	for iter.Next() {
		rec := &task.RecordWithSeq{}
		if err := cbor.Unmarshal(iter.Value(), rec); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}

	return results, iter.Error()
}

func (l *TaskIndex) GetSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
