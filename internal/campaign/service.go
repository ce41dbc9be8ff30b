// Package campaign implements the dispatch engine: the per-account
// sequential runner, its runtime registry, and the orchestration around
// the contact store, ledger, channel and reports.
package campaign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"

	"masivos/internal/channel"
	"masivos/internal/contacts"
	"masivos/internal/eventbus"
	"masivos/internal/events"
	"masivos/internal/ledger"
	"masivos/internal/report"
	"masivos/internal/storage"
	logx "masivos/pkg/logx"
)

// Deps are the collaborators a Service needs. History may be nil.
type Deps struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Contacts *contacts.Store
	Ledger   *ledger.Ledger
	Registry *Registry
	Channel  channel.Channel
	Reports  *report.Generator
	History  storage.Store
	MediaDir string
}

type Service struct {
	log      logx.Logger
	bus      eventbus.Bus
	contacts *contacts.Store
	ledger   *ledger.Ledger
	reg      *Registry
	channel  channel.Channel
	reports  *report.Generator
	history  storage.Store
	mediaDir string

	mu       sync.Mutex
	defaults Options

	runWG sync.WaitGroup
}

func New(deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		bus:      deps.Bus,
		contacts: deps.Contacts,
		ledger:   deps.Ledger,
		reg:      deps.Registry,
		channel:  deps.Channel,
		reports:  deps.Reports,
		history:  deps.History,
		mediaDir: deps.MediaDir,
	}
}

func (s *Service) Registry() *Registry { return s.reg }

// ApplyDefaults swaps the config-derived run defaults (hot reload).
func (s *Service) ApplyDefaults(o Options) {
	s.mu.Lock()
	s.defaults = o
	s.mu.Unlock()
}

func (s *Service) Defaults() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// StartRun launches a run on its own goroutine. Precondition failures
// surface as status events from within Run, never as errors here.
func (s *Service) StartRun(ctx context.Context, accountID string, opts Options) {
	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		// Run's own deferred EndRun clears the sending flag during the
		// unwind; clearing it here too would hit a run that never
		// claimed it.
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in campaign run",
					logx.String("account", accountID), logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		s.Run(ctx, accountID, opts)
	}()
}

// Wait blocks until every in-flight run goroutine has returned.
func (s *Service) Wait() { s.runWG.Wait() }

// StopRun requests cooperative cancellation of accountID's run.
func (s *Service) StopRun(accountID string) bool {
	if !s.reg.RequestCancel(accountID) {
		return false
	}
	s.status(events.LevelWarn, fmt.Sprintf("(%s) Cancelando envío...", accountID))
	return true
}

// StopAll cancels every currently-sending account and returns the ids hit.
func (s *Service) StopAll() []string {
	ids := s.reg.SendingIDs()
	var stopped []string
	for _, id := range ids {
		if s.reg.RequestCancel(id) {
			stopped = append(stopped, id)
		}
	}
	if len(stopped) > 0 {
		s.status(events.LevelWarn, "Cancelando envíos...")
	} else {
		s.status(events.LevelInfo, "No hay envíos en curso.")
	}
	return stopped
}

// FullReset clears the loaded contacts and every account's runtime
// flags/progress. The durable ledger is never touched here.
func (s *Service) FullReset() {
	s.contacts.Clear()
	s.reg.ResetRuntime()
	s.log.Info("full reset applied")
}

// ResetLedger clears accountID's durable dedup state. This is the only
// path that does.
func (s *Service) ResetLedger(accountID string) error {
	if err := s.ledger.Reset(accountID); err != nil {
		s.status(events.LevelError, fmt.Sprintf("(%s) No se pudo limpiar el historial de contactados.", accountID))
		return err
	}
	s.status(events.LevelSuccess, fmt.Sprintf("(%s) Historial de contactados limpiado.", accountID))
	return nil
}

// ---- channel.Events ----

func (s *Service) ChannelReady(accountID string, ready bool) {
	s.reg.SetReady(accountID, ready)
	s.bus.Emit(events.TypeReady, events.Ready{AccountID: accountID, Ready: ready})
	if !ready {
		s.status(events.LevelWarn, fmt.Sprintf("(%s) Canal desconectado.", accountID))
	}
}

func (s *Service) DeliveryAck(accountID, to string, code int) {
	s.bus.Emit(events.TypeAck, events.Ack{AccountID: accountID, To: to, Ack: code})
}

// ---- helpers ----

func (s *Service) status(level, message string) {
	s.bus.Emit(events.TypeStatus, events.Status{Level: level, Message: message})
}

// normalize fills missing option fields from the configured defaults.
// Delays are taken as-is (zero means no pacing); only negative values
// are clamped.
func (s *Service) normalize(o Options) Options {
	def := s.Defaults()
	o.CountryCode = DigitsOnly(o.CountryCode)
	if o.CountryCode == "" {
		o.CountryCode = DigitsOnly(def.CountryCode)
	}
	if o.CountryCode == "" {
		o.CountryCode = "52"
	}
	if o.DelayAfter < 0 {
		o.DelayAfter = 0
	}
	if o.DelayBetween < 0 {
		o.DelayBetween = 0
	}
	if o.ContentMode == "" {
		o.ContentMode = ContentText
	}
	return o
}

// attachmentNames are the fixed basenames operators drop into the
// media dir; first match per base wins.
var (
	attachmentNames = []string{"imagen_uno", "imagen_dos"}
	attachmentExts  = []string{".jpg", ".jpeg", ".png", ".webp"}
)

func (s *Service) resolveAttachments() []string {
	if s.mediaDir == "" {
		return nil
	}
	var out []string
	for _, base := range attachmentNames {
		for _, ext := range attachmentExts {
			p := filepath.Join(s.mediaDir, base+ext)
			if _, err := os.Stat(p); err == nil {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
