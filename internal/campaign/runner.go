package campaign

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"masivos/internal/contacts"
	"masivos/internal/events"
	"masivos/internal/report"
	"masivos/internal/storage"
	logx "masivos/pkg/logx"
)

// runState carries everything a single run accumulates.
type runState struct {
	accountID   string
	opts        Options
	total       int
	cancelCh    <-chan struct{}
	seen        map[string]struct{}
	attachments []string

	all     []report.AllRow
	valid   []report.ValidRow
	invalid []report.InvalidRow

	processed  int
	sent       int
	duplicates int
	skipped    int
	invalidN   int
	errors     int
	cancelled  bool
	started    time.Time
}

// rowOutcome is the classification of a single contact row.
type rowOutcome struct {
	telefono string
	status   string
	estado   string
	motivo   string
	mando    string
}

// Run executes a campaign for accountID synchronously. Every failure
// mode is reported as a status event; Run never returns an error.
func (s *Service) Run(ctx context.Context, accountID string, opts Options) {
	opts = s.normalize(opts)

	if !s.reg.Known(accountID) {
		s.status(events.LevelError, fmt.Sprintf("(%s) Cuenta desconocida.", accountID))
		return
	}
	if !s.reg.Ready(accountID) {
		s.status(events.LevelError, fmt.Sprintf("(%s) El canal no está listo todavía.", accountID))
		return
	}
	rows := s.contacts.Snapshot()
	if len(rows) == 0 {
		s.status(events.LevelError, fmt.Sprintf("(%s) Carga primero un CSV.", accountID))
		return
	}
	cancelCh, ok := s.reg.TryBeginRun(accountID, len(rows))
	if !ok {
		s.status(events.LevelWarn, fmt.Sprintf("(%s) Ya hay un envío en curso.", accountID))
		return
	}
	defer s.reg.EndRun(accountID)

	run := &runState{
		accountID: accountID,
		opts:      opts,
		total:     len(rows),
		cancelCh:  cancelCh,
		seen:      make(map[string]struct{}, len(rows)),
		started:   time.Now(),
	}
	if opts.ContentMode == ContentAttachments {
		run.attachments = s.resolveAttachments()
		if len(run.attachments) == 0 {
			s.status(events.LevelWarn, fmt.Sprintf("(%s) No hay imágenes en la carpeta de medios; se enviará solo texto.", accountID))
		}
	}

	s.status(events.LevelInfo, fmt.Sprintf("(%s) Iniciando envío a %d filas...", accountID, run.total))
	s.log.Info("campaign run started",
		logx.String("account", accountID), logx.Int("rows", run.total),
		logx.String("mode", string(opts.ContentMode)))

	for i, row := range rows {
		if s.reg.CancelRequested(accountID) || ctx.Err() != nil {
			run.cancelled = true
			break
		}
		out := s.dispatchRow(ctx, run, row)
		s.recordRow(run, i, row, out)
		s.pause(ctx, opts.DelayBetween, cancelCh)
	}

	s.finishRun(ctx, run)
}

// dispatchRow classifies one contact row and, when it qualifies,
// delivers to it. The caller accounts the outcome exactly once.
func (s *Service) dispatchRow(ctx context.Context, run *runState, row contacts.Row) rowOutcome {
	out := rowOutcome{
		telefono: strings.TrimSpace(row.Telefono),
		estado:   estadoInvalido,
		motivo:   motivoNone,
		mando:    mandoNo,
	}

	digits, ok := SanitizePhone(row.Telefono)
	if !ok {
		out.status = statusSkipped
		out.motivo = motivoEmpty
		return out
	}
	key := RecipientKey(run.opts.CountryCode, digits)
	out.telefono = "+" + key

	if _, dup := run.seen[key]; dup || s.ledger.Has(run.accountID, key) {
		out.status = statusDuplicate
		out.motivo = motivoDuplicate
		return out
	}
	run.seen[key] = struct{}{}

	handle, found, err := s.channel.Lookup(ctx, run.accountID, key)
	if err != nil {
		s.log.Error("recipient lookup failed",
			logx.String("account", run.accountID), logx.String("to", key), logx.Err(err))
		out.status = statusError
		out.motivo = motivoSendError
		return out
	}
	if !found {
		out.status = statusInvalid
		out.motivo = motivoUnregistered
		return out
	}

	status, err := s.deliver(ctx, run, handle, row.Mensaje)
	if err != nil {
		s.log.Error("delivery failed",
			logx.String("account", run.accountID), logx.String("to", key), logx.Err(err))
		out.status = statusError
		out.motivo = motivoSendError
		return out
	}
	out.status = status
	out.estado = estadoActivo
	out.motivo = motivoNone
	out.mando = mandoSi

	s.ledger.Mark(run.accountID, key)
	s.pause(ctx, run.opts.DelayAfter, run.cancelCh)
	return out
}

// deliver sends the row's content over the channel. Attachment mode
// falls back to plain text when no images were resolved.
func (s *Service) deliver(ctx context.Context, run *runState, handle, mensaje string) (string, error) {
	if run.opts.ContentMode == ContentAttachments && len(run.attachments) > 0 {
		if len(run.attachments) >= 2 {
			if err := s.channel.SendAttachment(ctx, run.accountID, handle, run.attachments[0], mensaje); err != nil {
				return "", err
			}
			s.pause(ctx, pauseBetweenAttachments, run.cancelCh)
			if err := s.channel.SendAttachment(ctx, run.accountID, handle, run.attachments[1], ""); err != nil {
				return "", err
			}
			return statusSentTwo, nil
		}
		if err := s.channel.SendAttachment(ctx, run.accountID, handle, run.attachments[0], mensaje); err != nil {
			return "", err
		}
		return statusSentOne, nil
	}
	if err := s.channel.SendText(ctx, run.accountID, handle, mensaje); err != nil {
		return "", err
	}
	return statusSent, nil
}

// recordRow is the single accounting path for a processed row: one
// progress event, one report append, one processed increment, one
// percent event.
func (s *Service) recordRow(run *runState, i int, row contacts.Row, out rowOutcome) {
	nombre := strings.TrimSpace(row.Nombre)
	negocio := nombre
	if negocio == "" {
		negocio = "-"
	}
	s.bus.Emit(events.TypeProgress, events.Progress{
		AccountID: run.accountID,
		Index:     i + 1,
		Total:     run.total,
		Telefono:  out.telefono,
		Negocio:   negocio,
		Status:    out.status,
	})

	run.all = append(run.all, report.AllRow{Telefono: out.telefono, Negocio: nombre, Mando: out.mando})
	if out.estado == estadoActivo {
		run.valid = append(run.valid, report.ValidRow{
			Telefono: out.telefono, Negocio: nombre, Estado: estadoActivo, Mando: out.mando,
		})
	} else {
		run.invalid = append(run.invalid, report.InvalidRow{
			Telefono: out.telefono, Negocio: nombre, Estado: out.estado, Motivo: out.motivo,
		})
	}

	switch out.status {
	case statusSkipped:
		run.skipped++
	case statusDuplicate:
		run.duplicates++
	case statusInvalid:
		run.invalidN++
	case statusError:
		run.errors++
	default:
		run.sent++
	}

	run.processed++
	pct := percentOf(run.processed, run.total)
	s.reg.SetProgress(run.accountID, Progress{Processed: run.processed, Total: run.total, Percent: pct})
	s.bus.Emit(events.TypePercent, events.Percent{
		AccountID: run.accountID,
		Processed: run.processed,
		Total:     run.total,
		Percent:   pct,
	})
}

// finishRun writes the reports, publishes the completion event and the
// run-history record, and emits the terminal status line. A cancelled
// run keeps its last percent; only a normal completion is forced to 100.
func (s *Service) finishRun(ctx context.Context, run *runState) {
	if !run.cancelled {
		s.reg.SetProgress(run.accountID, Progress{Processed: run.processed, Total: run.total, Percent: 100})
		s.bus.Emit(events.TypePercent, events.Percent{
			AccountID: run.accountID, Processed: run.processed, Total: run.total, Percent: 100,
		})
	}

	stamp := time.Now().Format("20060102-150405")
	paths, err := s.reports.Write(run.accountID, stamp, run.all, run.valid, run.invalid)
	done := events.Done{AccountID: run.accountID}
	if err != nil {
		s.log.Error("report generation failed",
			logx.String("account", run.accountID), logx.Err(err))
		s.status(events.LevelError, fmt.Sprintf("(%s) No se pudieron generar los reportes.", run.accountID))
	} else {
		done.ReportURL = "/reports/" + filepath.Base(paths.All)
		done.ReportValidURL = "/reports/" + filepath.Base(paths.Valid)
		done.ReportInvalidURL = "/reports/" + filepath.Base(paths.Invalid)
	}
	s.bus.Emit(events.TypeDone, done)

	s.appendHistory(ctx, run, paths)

	if run.cancelled {
		s.status(events.LevelWarn, fmt.Sprintf("(%s) Envío cancelado. Procesadas %d de %d filas.", run.accountID, run.processed, run.total))
	} else {
		s.status(events.LevelSuccess, fmt.Sprintf("(%s) Envío finalizado.", run.accountID))
	}
	s.log.Info("campaign run finished",
		logx.String("account", run.accountID),
		logx.Int("processed", run.processed), logx.Int("sent", run.sent),
		logx.Int("duplicates", run.duplicates), logx.Int("skipped", run.skipped),
		logx.Int("invalid", run.invalidN), logx.Int("errors", run.errors),
		logx.Bool("cancelled", run.cancelled),
		logx.Duration("elapsed", time.Since(run.started)))
}

func (s *Service) appendHistory(ctx context.Context, run *runState, paths report.Paths) {
	if s.history == nil {
		return
	}
	rec := storage.RunRecord{
		RunID:         uuid.NewString(),
		AccountID:     run.accountID,
		StartedAt:     run.started,
		Duration:      time.Since(run.started),
		Total:         run.total,
		Processed:     run.processed,
		Sent:          run.sent,
		Duplicates:    run.duplicates,
		Skipped:       run.skipped,
		Invalid:       run.invalidN,
		Errors:        run.errors,
		Cancelled:     run.cancelled,
		ReportAll:     baseName(paths.All),
		ReportValid:   baseName(paths.Valid),
		ReportInvalid: baseName(paths.Invalid),
	}
	if err := s.history.AppendRun(ctx, rec); err != nil {
		s.log.Warn("run history append failed",
			logx.String("account", run.accountID), logx.Err(err))
	}
}

// pause sleeps for d but wakes early on cancellation or context
// shutdown. Zero and negative delays return immediately.
func (s *Service) pause(ctx context.Context, d time.Duration, cancelCh <-chan struct{}) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-cancelCh:
	case <-ctx.Done():
	}
}

func baseName(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Base(p)
}

func percentOf(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}
