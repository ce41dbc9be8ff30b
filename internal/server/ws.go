package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"masivos/internal/campaign"
	"masivos/internal/events"
	"masivos/internal/scheduler"
	logx "masivos/pkg/logx"
)

// wsFrame is the outbound wire shape: every engine event becomes one
// JSON text frame.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsCommand is the inbound wire shape for control operations.
type wsCommand struct {
	Op        string    `json:"op"`
	AccountID string    `json:"accountId"`
	JobID     string    `json:"jobId"`
	Payload   wsPayload `json:"payload"`
}

type wsPayload struct {
	CountryCode    string `json:"countryCode"`
	DelayAfterMs   int    `json:"delayAfterMs"`
	DelayBetweenMs int    `json:"delayBetweenMs"`
	Mode           string `json:"mode"`
	RunAt          int64  `json:"runAt"` // unix millis
}

const wsEventBuffer = 128

// handleWS upgrades the connection, sends a hydration snapshot, then
// streams engine events while accepting control commands. A single
// writer goroutine owns all writes after the snapshot; command
// feedback travels through the bus so it reaches every observer.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}
	log := s.log.With(logx.String("remote", conn.RemoteAddr().String()))
	log.Debug("observer attached")

	hydrate, err := json.Marshal(wsFrame{Type: events.TypeHydrate, Data: s.hydrate()})
	if err == nil {
		err = wsutil.WriteServerText(conn, hydrate)
	}
	if err != nil {
		log.Warn("hydrate write failed", logx.Err(err))
		conn.Close()
		return
	}

	sub := s.bus.Subscribe(wsEventBuffer)
	done := make(chan struct{})

	go func() {
		defer conn.Close()
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				frame, err := json.Marshal(wsFrame{Type: ev.Type, Data: ev.Data})
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerText(conn, frame); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			break
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warn("bad websocket command", logx.Err(err))
			continue
		}
		s.dispatchCommand(&cmd, log)
	}

	close(done)
	sub.Close()
	log.Debug("observer detached")
}

func (s *Server) dispatchCommand(cmd *wsCommand, log logx.Logger) {
	switch cmd.Op {
	case "start-sending":
		s.campaign.StartRun(s.runCtx, cmd.AccountID, s.buildOptions(cmd.Payload))
	case "schedule-sending":
		runAt := time.UnixMilli(cmd.Payload.RunAt)
		if _, err := s.sched.Schedule(cmd.AccountID, runAt, s.buildOptions(cmd.Payload)); err != nil {
			msg := "No se pudo programar el envío."
			if errors.Is(err, scheduler.ErrPastTime) {
				msg = "No se pudo programar el envío: la fecha debe ser futura."
			}
			log.Warn("schedule rejected", logx.String("account", cmd.AccountID), logx.Err(err))
			s.bus.Emit(events.TypeStatus, events.Status{
				Level:   events.LevelError,
				Message: msg,
			})
		}
	case "cancel-schedule":
		s.sched.Cancel(cmd.JobID)
	case "stop-sending":
		if cmd.AccountID == "" {
			s.campaign.StopAll()
		} else if !s.campaign.StopRun(cmd.AccountID) {
			s.bus.Emit(events.TypeStatus, events.Status{
				Level:   events.LevelInfo,
				Message: "(" + cmd.AccountID + ") No hay envío en curso.",
			})
		}
	case "reset-ledger":
		_ = s.campaign.ResetLedger(cmd.AccountID)
	default:
		log.Warn("unknown websocket op", logx.String("op", cmd.Op))
	}
}

// buildOptions fills request options, falling back to the configured
// campaign defaults for anything the client omitted.
func (s *Server) buildOptions(p wsPayload) campaign.Options {
	def := s.campaign.Defaults()
	o := campaign.Options{
		CountryCode: p.CountryCode,
		ContentMode: campaign.ContentMode(p.Mode),
	}
	if o.CountryCode == "" {
		o.CountryCode = def.CountryCode
	}
	o.DelayAfter = msOrDefault(p.DelayAfterMs, def.DelayAfter)
	o.DelayBetween = msOrDefault(p.DelayBetweenMs, def.DelayBetween)
	if o.ContentMode == "" {
		o.ContentMode = def.ContentMode
	}
	return o
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// hydrate builds the point-in-time snapshot for a new observer.
func (s *Server) hydrate() events.Hydrate {
	accounts := map[string]events.AccountSnapshot{}
	for id, st := range s.campaign.Registry().Snapshot() {
		accounts[id] = events.AccountSnapshot{
			Ready:     st.Ready,
			Sending:   st.Sending,
			Processed: st.Progress.Processed,
			Total:     st.Progress.Total,
			Percent:   st.Progress.Percent,
		}
	}
	return events.Hydrate{
		HasUpload: s.contacts.HasUpload(),
		CSVCount:  s.contacts.Count(),
		Accounts:  accounts,
		Scheduled: s.sched.Pending(),
	}
}
