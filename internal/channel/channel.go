// Package channel defines the boundary to the external messaging
// transport. The engine only ever talks to the Channel interface; the
// pairing/authentication flow that brings an account to "ready" lives
// behind the driver and surfaces here as lifecycle callbacks.
package channel

import "context"

// Delivery acknowledgement codes as reported by the transport.
const (
	AckError   = -1
	AckPending = 0
	AckServer  = 1
	AckDevice  = 2
	AckRead    = 3
	AckPlayed  = 4
)

// Channel is the per-process messaging transport, multiplexing all
// configured accounts.
//
// Calls may block for as long as the transport needs; no per-call
// timeout is imposed here. Every call takes a context so process
// shutdown can still unblock a hung transport.
type Channel interface {
	// Lookup resolves a digit-only phone string to a deliverable
	// handle. found=false means the number is not registered on the
	// channel (distinct from a transport error).
	Lookup(ctx context.Context, accountID, phoneDigits string) (handle string, found bool, err error)

	// SendText delivers msg verbatim.
	SendText(ctx context.Context, accountID, handle, text string) error

	// SendAttachment delivers the file at path with an optional caption.
	SendAttachment(ctx context.Context, accountID, handle, path, caption string) error
}

// Events receives lifecycle callbacks from a driver. Implementations
// must not block: drivers may call from their own internal goroutines.
type Events interface {
	// ChannelReady reports an account entering or leaving the ready state.
	ChannelReady(accountID string, ready bool)

	// DeliveryAck reports an acknowledgement for a delivered message.
	DeliveryAck(accountID, to string, code int)
}
