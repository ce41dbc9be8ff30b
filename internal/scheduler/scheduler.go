// Package scheduler arms deferred campaign runs: one-shot jobs fired by
// wall-clock timers, plus optional recurring cron entries.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"masivos/internal/campaign"
	"masivos/internal/eventbus"
	"masivos/internal/events"
	logx "masivos/pkg/logx"
)

// ErrPastTime rejects one-shot jobs whose run time is not in the future.
var ErrPastTime = errors.New("scheduler: run time must be in the future")

// ErrNotStarted is returned by registration calls before Start.
var ErrNotStarted = errors.New("scheduler: not started")

// specParser accepts standard five-field cron expressions plus
// @-descriptors ("@daily", "@every 4h").
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec checks a cron expression without registering anything.
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(spec)
	return err
}

// RunFunc executes a scheduled campaign. It must not block the caller
// for the whole run; the campaign service runs asynchronously.
type RunFunc func(accountID string, opts campaign.Options)

type oneShot struct {
	id        string
	accountID string
	opts      campaign.Options
	runAt     time.Time
	timer     *time.Timer
}

type Config struct {
	Timezone string // IANA TZ for cron entries; empty means time.Local
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus
	run RunFunc
	cfg Config

	mu       sync.Mutex
	pending  map[string]*oneShot
	entryFor map[cron.EntryID]string // recurring entry -> account
	parser   cron.Parser
	c        *cron.Cron
	started  bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, run RunFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		bus:      bus,
		run:      run,
		cfg:      cfg,
		pending:  map[string]*oneShot{},
		entryFor: map[cron.EntryID]string{},
		parser:   specParser,
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	loc := s.loadLocation()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.c.Start()
	s.started = true
	s.log.Info("scheduler started", logx.String("tz", loc.String()))
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.c.Stop().Done()
	s.c = nil
	s.entryFor = map[cron.EntryID]string{}
	for id, j := range s.pending {
		j.timer.Stop()
		delete(s.pending, id)
	}
	s.log.Info("scheduler stopped")
}

// Schedule arms a one-shot deferred run for accountID at runAt.
// Times at or before now are rejected.
func (s *Service) Schedule(accountID string, runAt time.Time, opts campaign.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return "", ErrNotStarted
	}
	now := time.Now()
	if !runAt.After(now) {
		return "", ErrPastTime
	}

	id := uuid.NewString()
	j := &oneShot{id: id, accountID: accountID, opts: opts, runAt: runAt}
	j.timer = time.AfterFunc(runAt.Sub(now), func() { s.fire(id) })
	s.pending[id] = j

	s.bus.Emit(events.TypeScheduled, events.Scheduled{
		JobID: id, AccountID: accountID, RunAt: runAt.UnixMilli(),
	})
	s.bus.Emit(events.TypeStatus, events.Status{
		Level:   events.LevelInfo,
		Message: fmt.Sprintf("(%s) Envío programado para %s.", accountID, runAt.Format("2006-01-02 15:04")),
	})
	s.log.Info("deferred run armed",
		logx.String("job", id), logx.String("account", accountID), logx.Time("run_at", runAt))
	return id, nil
}

// fire removes the job from pending before invoking the run, so a
// concurrent Cancel of an already-firing job is a clean no-op.
func (s *Service) fire(id string) {
	s.mu.Lock()
	j, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.log.Info("deferred run firing",
		logx.String("job", id), logx.String("account", j.accountID))
	s.run(j.accountID, j.opts)
}

// Cancel disarms a pending one-shot job. Unknown ids (including jobs
// that already fired) return false without side effects.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()
	j, ok := s.pending[jobID]
	if ok {
		delete(s.pending, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	j.timer.Stop()
	s.bus.Emit(events.TypeScheduleCancelled, events.ScheduleCancelled{JobID: jobID})
	s.bus.Emit(events.TypeStatus, events.Status{
		Level:   events.LevelWarn,
		Message: fmt.Sprintf("(%s) Envío programado cancelado.", j.accountID),
	})
	s.log.Info("deferred run cancelled", logx.String("job", jobID))
	return true
}

// Pending lists armed one-shot jobs plus the next fire time of each
// recurring entry, soonest first.
func (s *Service) Pending() []events.ScheduledJob {
	s.mu.Lock()
	out := make([]events.ScheduledJob, 0, len(s.pending)+len(s.entryFor))
	for _, j := range s.pending {
		out = append(out, events.ScheduledJob{
			JobID: j.id, AccountID: j.accountID, RunAt: j.runAt.UnixMilli(),
		})
	}
	if s.c != nil {
		for _, e := range s.c.Entries() {
			account, ok := s.entryFor[e.ID]
			if !ok || e.Next.IsZero() {
				continue
			}
			out = append(out, events.ScheduledJob{
				JobID:     fmt.Sprintf("cron-%d", e.ID),
				AccountID: account,
				RunAt:     e.Next.UnixMilli(),
			})
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].RunAt < out[k].RunAt })
	return out
}

// AddCron registers a recurring run on a standard 5-field cron spec.
func (s *Service) AddCron(spec, accountID string, opts campaign.Options) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, ErrNotStarted
	}
	id, err := s.c.AddFunc(spec, func() {
		s.log.Info("recurring run firing",
			logx.String("spec", spec), logx.String("account", accountID))
		s.run(accountID, opts)
	})
	if err != nil {
		return 0, err
	}
	s.entryFor[id] = accountID
	s.log.Info("recurring run registered",
		logx.String("spec", spec), logx.String("account", accountID))
	return id, nil
}

// AddDaily registers a recurring run every day at HH:MM.
func (s *Service) AddDaily(atHHMM, accountID string, opts campaign.Options) (cron.EntryID, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return 0, err
	}
	return s.AddCron(fmt.Sprintf("%d %d * * *", m, h), accountID, opts)
}

// RemoveCron drops a recurring entry.
func (s *Service) RemoveCron(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.c.Remove(id)
	}
	delete(s.entryFor, id)
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local",
			logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func parseHHMM(v string) (hour, minute int, err error) {
	v = strings.TrimSpace(v)
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	return h, m, nil
}
