package connection

import "errors"

var (
	// ErrChannelClosed is returned when sending on a channel that has already closed.
	ErrChannelClosed = errors.New("connection: channel closed")

	// ErrSendBufferFull is returned when a channel's outbound buffer is full.
	// The message is dropped; the peer is too slow to keep up.
	ErrSendBufferFull = errors.New("connection: send buffer full")
)
