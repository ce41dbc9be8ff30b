package channel

import (
	"context"
	"errors"
	"strings"
	"sync"

	logx "masivos/pkg/logx"
)

// Sim is the built-in deterministic channel driver.
//
// It exists so the engine can run end to end without a real transport
// linked in: every account becomes ready at Start, every registered
// number resolves to "<digits>@c.us", and deliveries ack immediately
// with AckServer. Tests use its knobs to script lookups and failures.
type Sim struct {
	log logx.Logger

	mu sync.Mutex

	events Events

	// knobs
	unregistered map[string]bool  // digits -> not on the channel
	failWith     map[string]error // digits -> delivery error

	sent []SimDelivery
}

// SimDelivery records one delivery for inspection.
type SimDelivery struct {
	AccountID string
	Handle    string
	Text      string
	Path      string
	Caption   string
}

var errSimNotStarted = errors.New("channel: sim driver not started")

func NewSim(log logx.Logger) *Sim {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sim{
		log:          log,
		unregistered: map[string]bool{},
		failWith:     map[string]error{},
	}
}

// Start installs the event sink and reports every account ready.
func (s *Sim) Start(ctx context.Context, accountIDs []string, events Events) {
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()

	for _, id := range accountIDs {
		if ctx.Err() != nil {
			return
		}
		events.ChannelReady(id, true)
		s.log.Debug("sim account ready", logx.String("account", id))
	}
}

// SetUnregistered scripts Lookup to report digits as absent.
func (s *Sim) SetUnregistered(digits string, v bool) {
	s.mu.Lock()
	s.unregistered[digits] = v
	s.mu.Unlock()
}

// FailDelivery scripts deliveries to digits' handle to return err.
func (s *Sim) FailDelivery(digits string, err error) {
	s.mu.Lock()
	s.failWith[digits] = err
	s.mu.Unlock()
}

// Deliveries returns a copy of everything sent so far.
func (s *Sim) Deliveries() []SimDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimDelivery(nil), s.sent...)
}

func (s *Sim) Lookup(ctx context.Context, accountID, phoneDigits string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	absent := s.unregistered[phoneDigits]
	s.mu.Unlock()
	if absent {
		return "", false, nil
	}
	return phoneDigits + "@c.us", true, nil
}

func (s *Sim) SendText(ctx context.Context, accountID, handle, text string) error {
	return s.deliver(ctx, SimDelivery{AccountID: accountID, Handle: handle, Text: text})
}

func (s *Sim) SendAttachment(ctx context.Context, accountID, handle, path, caption string) error {
	return s.deliver(ctx, SimDelivery{AccountID: accountID, Handle: handle, Path: path, Caption: caption})
}

func (s *Sim) deliver(ctx context.Context, d SimDelivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	ev := s.events
	digits := strings.TrimSuffix(d.Handle, "@c.us")
	err := s.failWith[digits]
	if err == nil {
		s.sent = append(s.sent, d)
	}
	s.mu.Unlock()

	if ev == nil {
		return errSimNotStarted
	}
	if err != nil {
		ev.DeliveryAck(d.AccountID, d.Handle, AckError)
		return err
	}
	ev.DeliveryAck(d.AccountID, d.Handle, AckServer)
	return nil
}
