package task

import (
	"pyrite/oid"
	"time"
)

// Module is a WebAssembly task module. Its OID is identified by the module bytes.
type Module struct {
	_      struct{} `cbor:",toarray"`
	Oid    oid.Oid
	Length uint64
	Data   []byte
}

type State uint8

const (
	StateSubmitted State = iota
	StateSucceeded
	StateFailed
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

type Record struct {
	Oid        oid.Oid   `cbor:"1,keyasint"`
	Length     uint64    `cbor:"2,keyasint,omitempty"`
	SubmitTime time.Time `cbor:"3,keyasint"`
	State      State     `cbor:"4,keyasint,omitempty"`
	RunTime    time.Time `cbor:"5,keyasint"`           // Completion time of the last run
	Error      string    `cbor:"6,keyasint,omitempty"` // Failure reason of the last run
}

type RecordWithSeq struct {
	Sequence uint64  `cbor:"1,keyasint"`
	Record   *Record `cbor:"2,keyasint"`
}

// ModuleStore defines the interface for storing and retrieving task modules.
type ModuleStore interface {
	// Get retrieves a module from the store by its OID.
	Get(*oid.Oid) (*Module, error)

	// Has checks if a module with the given OID exists in the store.
	Has(*oid.Oid) (bool, error)

	// Put stores a module and returns its OID.
	Put(*Module) (*oid.Oid, error)

	// Delete removes a module. Deleting a missing module is not an error.
	Delete(*oid.Oid) error

	// Enumerate returns the OIDs of all stored modules.
	Enumerate() ([]*oid.Oid, error)

	Close() error
}

// TaskIndex keeps task records addressable by module OID and by a local sequence number.
// Every change of a record is assigned a new sequence number, so enumerating by sequence
// yields the task log.
type TaskIndex interface {
	GetByOid(*oid.Oid) (*RecordWithSeq, error)
	GetBySeq(uint64) (*RecordWithSeq, error)

	// Put stores a record. An unchanged record keeps its sequence number.
	Put(*Record) (*RecordWithSeq, error)

	Has(*oid.Oid) (bool, error)

	// EnumerateBySeq returns the records with start <= sequence < end.
	EnumerateBySeq(uint64, uint64) ([]*RecordWithSeq, error)

	// GetSeq returns the highest sequence number assigned so far.
	GetSeq() uint64

	Close() error
}

// IsRecordEqual compares records ignoring time zones and monotonic clock readings
func IsRecordEqual(a *Record, b *Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Oid.Equal(&b.Oid) &&
		a.Length == b.Length &&
		a.SubmitTime.Equal(b.SubmitTime) &&
		a.State == b.State &&
		a.RunTime.Equal(b.RunTime) &&
		a.Error == b.Error
}
