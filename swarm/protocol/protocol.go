// Package protocol defines the messages exchanged between pyrite nodes and
// their CBOR datagram encoding.
package protocol

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/fxamacker/cbor/v2"
)

const (
	// MaxDatagramSize is the size of the receive buffer, the largest value the
	// UDP length field allows.
	MaxDatagramSize = 65535

	// MaxPayloadSize is the largest UDP payload deliverable over IPv4: the
	// datagram limit minus the 8 byte UDP header and the 20 byte IPv4 header.
	// Encode rejects anything larger.
	MaxPayloadSize = MaxDatagramSize - 8 - 20
)

type Kind uint8

const (
	KindKeepAlive       Kind = 1
	KindNewNode         Kind = 2
	KindRequestPeerList Kind = 3
	KindPeerList        Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindKeepAlive:
		return "KeepAlive"
	case KindNewNode:
		return "NewNode"
	case KindRequestPeerList:
		return "RequestPeerList"
	case KindPeerList:
		return "PeerList"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var ErrUnknownKind = errors.New("unknown message kind")

var ErrMessageTooLarge = errors.New("message exceeds the maximum UDP payload")

// DecodeError is returned when a datagram is not a valid encoding of any known message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "protocol: decode: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Message is one of KeepAlive, NewNode, RequestPeerList or PeerList.
// The set is closed: only this package can add variants.
type Message interface {
	Kind() Kind
	isMessage()
}

// KeepAlive is a liveness ping. It carries no payload.
type KeepAlive struct{}

// NewNode announces a newly observed peer.
type NewNode struct {
	Address netip.AddrPort `cbor:"1,keyasint"` // Address of the announced node
}

// RequestPeerList asks the receiver for its known peers.
type RequestPeerList struct{}

// PeerList answers RequestPeerList. Order is irrelevant.
type PeerList struct {
	Addresses []netip.AddrPort `cbor:"1,keyasint"` // Known peer addresses
}

func (KeepAlive) Kind() Kind       { return KindKeepAlive }
func (NewNode) Kind() Kind         { return KindNewNode }
func (RequestPeerList) Kind() Kind { return KindRequestPeerList }
func (PeerList) Kind() Kind        { return KindPeerList }

func (KeepAlive) isMessage()       {}
func (NewNode) isMessage()         {}
func (RequestPeerList) isMessage() {}
func (PeerList) isMessage()        {}

// envelope is the on-wire frame: the variant tag followed by its CBOR-encoded body.
type envelope struct {
	Kind Kind            `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxArrayElements: MaxDatagramSize,
		MaxMapPairs:      MaxDatagramSize,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Encode serializes a message into a single datagram payload.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("protocol: encode: nil message")
	}

	env := envelope{Kind: msg.Kind()}

	switch m := msg.(type) {
	case KeepAlive, RequestPeerList:
		// No body
	case NewNode, PeerList:
		body, err := cbor.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", msg.Kind(), err)
		}
		env.Body = body
	default:
		return nil, fmt.Errorf("protocol: encode %T: %w", msg, ErrUnknownKind)
	}

	b, err := cbor.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Kind(), err)
	}
	if len(b) > MaxPayloadSize {
		return nil, fmt.Errorf("protocol: encode %s: %d bytes: %w", msg.Kind(), len(b), ErrMessageTooLarge)
	}
	return b, nil
}

// Decode parses one datagram payload. Any failure is reported as a *DecodeError.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxDatagramSize {
		return nil, &DecodeError{Err: fmt.Errorf("%d bytes exceeds datagram size", len(data))}
	}

	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch env.Kind {
	case KindKeepAlive:
		return KeepAlive{}, nil
	case KindRequestPeerList:
		return RequestPeerList{}, nil
	case KindNewNode:
		var m NewNode
		if err := decodeBody(env.Body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindPeerList:
		var m PeerList
		if err := decodeBody(env.Body, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, &DecodeError{Err: fmt.Errorf("%w: %d", ErrUnknownKind, uint8(env.Kind))}
	}
}

func decodeBody(body cbor.RawMessage, v any) error {
	if len(body) == 0 {
		return &DecodeError{Err: errors.New("missing message body")}
	}
	if err := decMode.Unmarshal(body, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}
