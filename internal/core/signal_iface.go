package core

import "errors"

// Frame is a raw encoded payload.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks; it fails with ErrBackpressure when the queue is full.
	TrySend(Frame) error
	Close()
}
