package campaign

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"masivos/internal/channel"
	"masivos/internal/contacts"
	"masivos/internal/eventbus"
	"masivos/internal/events"
	"masivos/internal/ledger"
	"masivos/internal/report"
	logx "masivos/pkg/logx"
)

type testEngine struct {
	svc      *Service
	sim      *channel.Sim
	bus      eventbus.Bus
	sub      *eventbus.Subscription
	store    *contacts.Store
	led      *ledger.Ledger
	reg      *Registry
	reports  string
	mediaDir string
}

func newTestEngine(t *testing.T, accounts ...string) *testEngine {
	t.Helper()
	if len(accounts) == 0 {
		accounts = []string{"principal"}
	}
	dir := t.TempDir()
	reportsDir := filepath.Join(dir, "reports")
	mediaDir := filepath.Join(dir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatalf("mkdir media: %v", err)
	}

	bus := eventbus.New()
	sub := bus.Subscribe(1024)
	t.Cleanup(sub.Close)

	led, err := ledger.Open(filepath.Join(dir, "ledger"), logx.Nop())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	gen, err := report.NewGenerator(reportsDir, logx.Nop())
	if err != nil {
		t.Fatalf("report.NewGenerator: %v", err)
	}

	sim := channel.NewSim(logx.Nop())
	reg := NewRegistry(accounts)
	store := contacts.NewStore()

	svc := New(Deps{
		Bus:      bus,
		Contacts: store,
		Ledger:   led,
		Registry: reg,
		Channel:  sim,
		Reports:  gen,
		MediaDir: mediaDir,
	})
	sim.Start(context.Background(), accounts, svc)

	return &testEngine{
		svc: svc, sim: sim, bus: bus, sub: sub,
		store: store, led: led, reg: reg,
		reports: reportsDir, mediaDir: mediaDir,
	}
}

// drain collects every event published so far.
func (e *testEngine) drain() []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case ev := <-e.sub.C():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(evs []eventbus.Event, typ string) []eventbus.Event {
	var out []eventbus.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunMixedRows(t *testing.T) {
	e := newTestEngine(t)
	e.store.Replace([]contacts.Row{
		{Nombre: "Taller López", Telefono: "55 1234-5678", Mensaje: "hola"},
		{Nombre: "Sin Tel", Telefono: "nan", Mensaje: "hola"},
		{Nombre: "Taller López bis", Telefono: "5512345678", Mensaje: "hola"},
	}, "contacts.csv")

	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52"})

	if got := len(e.sim.Deliveries()); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if !e.led.Has("principal", "525512345678") {
		t.Fatalf("delivered number missing from ledger")
	}

	evs := e.drain()
	progress := eventsOfType(evs, events.TypeProgress)
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	wantStatus := []string{"enviado", "saltado", "duplicado"}
	for i, ev := range progress {
		p := ev.Data.(events.Progress)
		if p.Status != wantStatus[i] {
			t.Fatalf("row %d: status = %q, want %q", i+1, p.Status, wantStatus[i])
		}
		if p.Index != i+1 || p.Total != 3 {
			t.Fatalf("row %d: index/total = %d/%d", i+1, p.Index, p.Total)
		}
	}
	if p := progress[0].Data.(events.Progress); p.Telefono != "+525512345678" {
		t.Fatalf("row 1 telefono = %q", p.Telefono)
	}

	percents := eventsOfType(evs, events.TypePercent)
	if len(percents) == 0 {
		t.Fatalf("no percent events")
	}
	last := percents[len(percents)-1].Data.(events.Percent)
	if last.Percent != 100 || last.Processed != 3 {
		t.Fatalf("final percent = %d processed = %d", last.Percent, last.Processed)
	}
	prev := -1
	for _, ev := range percents {
		p := ev.Data.(events.Percent)
		if p.Percent < prev {
			t.Fatalf("percent went backwards: %d after %d", p.Percent, prev)
		}
		prev = p.Percent
	}

	if done := eventsOfType(evs, events.TypeDone); len(done) != 1 {
		t.Fatalf("expected 1 done event, got %d", len(done))
	} else {
		d := done[0].Data.(events.Done)
		if !strings.HasPrefix(d.ReportURL, "/reports/report-principal-") {
			t.Fatalf("report url = %q", d.ReportURL)
		}
	}
}

func TestRunPreconditions(t *testing.T) {
	e := newTestEngine(t)

	// no CSV loaded
	e.svc.Run(context.Background(), "principal", Options{})
	if len(e.sim.Deliveries()) != 0 {
		t.Fatalf("run without csv delivered messages")
	}

	// channel not ready
	e.store.Replace([]contacts.Row{{Telefono: "5512345678"}}, "a.csv")
	e.reg.SetReady("principal", false)
	e.svc.Run(context.Background(), "principal", Options{})
	if len(e.sim.Deliveries()) != 0 {
		t.Fatalf("run on non-ready channel delivered messages")
	}

	// unknown account
	e.svc.Run(context.Background(), "nadie", Options{})
	if len(e.sim.Deliveries()) != 0 {
		t.Fatalf("run on unknown account delivered messages")
	}

	evs := e.drain()
	statuses := eventsOfType(evs, events.TypeStatus)
	if len(statuses) < 3 {
		t.Fatalf("expected status events for each refusal, got %d", len(statuses))
	}
	for _, ev := range statuses {
		if ev.Data.(events.Status).Level != events.LevelError {
			t.Fatalf("refusal status level = %q", ev.Data.(events.Status).Level)
		}
	}
	if len(eventsOfType(evs, events.TypeDone)) != 0 {
		t.Fatalf("refused runs must not emit done events")
	}
}

func TestRunSecondStartRejectedWhileSending(t *testing.T) {
	e := newTestEngine(t)
	e.store.Replace([]contacts.Row{{Telefono: "5512345678"}}, "a.csv")

	// hold the sending flag as a concurrent run would
	if _, ok := e.reg.TryBeginRun("principal", 1); !ok {
		t.Fatalf("TryBeginRun refused on idle account")
	}
	e.svc.Run(context.Background(), "principal", Options{})
	if len(e.sim.Deliveries()) != 0 {
		t.Fatalf("overlapping run delivered messages")
	}
	e.reg.EndRun("principal")

	found := false
	for _, ev := range eventsOfType(e.drain(), events.TypeStatus) {
		if strings.Contains(ev.Data.(events.Status).Message, "Ya hay un envío en curso") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing busy status message")
	}
}

func TestStartRunPanicKeepsForeignSendingFlag(t *testing.T) {
	// a nil bus makes the first status emit panic before the run can
	// claim the sending flag
	reg := NewRegistry([]string{"principal"})
	if _, ok := reg.TryBeginRun("principal", 3); !ok {
		t.Fatalf("TryBeginRun refused on idle account")
	}

	svc := New(Deps{Registry: reg, Contacts: contacts.NewStore()})
	svc.StartRun(context.Background(), "principal", Options{})
	svc.Wait()

	if !reg.Sending("principal") {
		t.Fatalf("panicked start cleared another run's sending flag")
	}
}

func TestStartRunPanicAfterClaimReleasesFlag(t *testing.T) {
	reg := NewRegistry([]string{"principal"})
	reg.SetReady("principal", true)
	store := contacts.NewStore()
	store.Replace([]contacts.Row{{Telefono: "5512345678"}}, "a.csv")

	// preconditions pass, so the flag is claimed and the nil bus
	// panics on the run-start status emit
	svc := New(Deps{Registry: reg, Contacts: store})
	svc.StartRun(context.Background(), "principal", Options{})
	svc.Wait()

	if reg.Sending("principal") {
		t.Fatalf("panicked run left the sending flag set")
	}
}

func TestRunUnregisteredAndFailedRows(t *testing.T) {
	e := newTestEngine(t)
	e.sim.SetUnregistered("525500000001", true)
	e.sim.FailDelivery("525500000002", errors.New("boom"))
	e.store.Replace([]contacts.Row{
		{Nombre: "a", Telefono: "5500000001", Mensaje: "x"},
		{Nombre: "b", Telefono: "5500000002", Mensaje: "x"},
		{Nombre: "c", Telefono: "5500000003", Mensaje: "x"},
	}, "a.csv")

	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52"})

	if got := len(e.sim.Deliveries()); got != 1 {
		t.Fatalf("expected only the last row delivered, got %d deliveries", got)
	}
	if e.led.Has("principal", "525500000001") || e.led.Has("principal", "525500000002") {
		t.Fatalf("failed rows must not reach the ledger")
	}
	if !e.led.Has("principal", "525500000003") {
		t.Fatalf("successful row missing from ledger")
	}

	progress := eventsOfType(e.drain(), events.TypeProgress)
	want := []string{"invalido", "error", "enviado"}
	for i, ev := range progress {
		if got := ev.Data.(events.Progress).Status; got != want[i] {
			t.Fatalf("row %d status = %q, want %q", i+1, got, want[i])
		}
	}
}

func TestRunLedgerSkipsAcrossRuns(t *testing.T) {
	e := newTestEngine(t)
	e.store.Replace([]contacts.Row{{Nombre: "a", Telefono: "5512345678", Mensaje: "x"}}, "a.csv")

	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52"})
	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52"})

	if got := len(e.sim.Deliveries()); got != 1 {
		t.Fatalf("second run re-delivered: %d deliveries", got)
	}
	progress := eventsOfType(e.drain(), events.TypeProgress)
	if len(progress) != 2 {
		t.Fatalf("expected 2 progress events, got %d", len(progress))
	}
	if got := progress[1].Data.(events.Progress).Status; got != "duplicado" {
		t.Fatalf("second run status = %q, want duplicado", got)
	}
}

func TestRunCancellation(t *testing.T) {
	e := newTestEngine(t)
	rows := make([]contacts.Row, 50)
	for i := range rows {
		rows[i] = contacts.Row{Telefono: "550000" + twoDigits(i) + "99", Mensaje: "x"}
	}
	e.store.Replace(rows, "a.csv")

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		e.svc.Run(context.Background(), "principal", Options{CountryCode: "52", DelayBetween: 20 * time.Millisecond})
		close(done)
	}()
	<-started
	// wait for the run to claim the account, then cancel
	deadline := time.After(2 * time.Second)
	for !e.reg.Sending("principal") {
		select {
		case <-deadline:
			t.Fatalf("run never started sending")
		case <-time.After(time.Millisecond):
		}
	}
	if !e.svc.StopRun("principal") {
		t.Fatalf("StopRun returned false for a sending account")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled run did not finish")
	}

	if e.reg.Sending("principal") {
		t.Fatalf("sending flag still set after cancel")
	}
	if got := len(e.sim.Deliveries()); got >= len(rows) {
		t.Fatalf("cancel had no effect: %d deliveries", got)
	}
	// reports still produced
	evs := e.drain()
	if len(eventsOfType(evs, events.TypeDone)) != 1 {
		t.Fatalf("cancelled run must still emit done with report urls")
	}
	// cancelled runs keep their last percent; none may read 100 unless
	// every row actually got processed
	percents := eventsOfType(evs, events.TypePercent)
	last := percents[len(percents)-1].Data.(events.Percent)
	if last.Processed < len(rows) && last.Percent == 100 {
		t.Fatalf("cancelled run forced percent to 100")
	}
}

func twoDigits(i int) string {
	return string(rune('0'+(i/10)%10)) + string(rune('0'+i%10))
}

func TestRunAttachmentsMode(t *testing.T) {
	e := newTestEngine(t)
	for _, name := range []string{"imagen_uno.jpg", "imagen_dos.png"} {
		if err := os.WriteFile(filepath.Join(e.mediaDir, name), []byte("img"), 0o644); err != nil {
			t.Fatalf("write media: %v", err)
		}
	}
	e.store.Replace([]contacts.Row{{Nombre: "a", Telefono: "5512345678", Mensaje: "promo"}}, "a.csv")

	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52", ContentMode: ContentAttachments})

	devs := e.sim.Deliveries()
	if len(devs) != 2 {
		t.Fatalf("expected 2 attachment deliveries, got %d", len(devs))
	}
	if devs[0].Caption != "promo" || devs[1].Caption != "" {
		t.Fatalf("caption placement wrong: %q / %q", devs[0].Caption, devs[1].Caption)
	}
	if filepath.Base(devs[0].Path) != "imagen_uno.jpg" || filepath.Base(devs[1].Path) != "imagen_dos.png" {
		t.Fatalf("attachment order wrong: %q, %q", devs[0].Path, devs[1].Path)
	}

	progress := eventsOfType(e.drain(), events.TypeProgress)
	if got := progress[0].Data.(events.Progress).Status; got != "enviado (2 adjuntos)" {
		t.Fatalf("status = %q", got)
	}
}

func TestRunAttachmentsModeFallsBackToText(t *testing.T) {
	e := newTestEngine(t) // media dir empty
	e.store.Replace([]contacts.Row{{Telefono: "5512345678", Mensaje: "promo"}}, "a.csv")

	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52", ContentMode: ContentAttachments})

	devs := e.sim.Deliveries()
	if len(devs) != 1 || devs[0].Text != "promo" {
		t.Fatalf("expected plain-text fallback, got %+v", devs)
	}
}

func TestRunWritesReports(t *testing.T) {
	e := newTestEngine(t)
	e.store.Replace([]contacts.Row{
		{Nombre: "bueno", Telefono: "5512345678", Mensaje: "x"},
		{Nombre: "malo", Telefono: "nan", Mensaje: "x"},
	}, "a.csv")

	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52"})

	entries, err := os.ReadDir(e.reports)
	if err != nil {
		t.Fatalf("read reports dir: %v", err)
	}
	var names []string
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 report files, got %v", names)
	}
	for _, prefix := range []string{"report-principal-", "report-validos-principal-", "report-invalidos-principal-"} {
		found := false
		for _, n := range names {
			if strings.HasPrefix(n, prefix) {
				found = true
			}
		}
		if !found {
			t.Fatalf("no report with prefix %q in %v", prefix, names)
		}
	}
}

func TestRunProcessedCoversEveryRow(t *testing.T) {
	e := newTestEngine(t)
	e.sim.SetUnregistered("525500000002", true)
	e.store.Replace([]contacts.Row{
		{Telefono: "5500000001", Mensaje: "x"},
		{Telefono: "5500000002", Mensaje: "x"},
		{Telefono: ""},
		{Telefono: "5500000001", Mensaje: "x"}, // session duplicate
	}, "a.csv")

	e.svc.Run(context.Background(), "principal", Options{CountryCode: "52"})

	percents := eventsOfType(e.drain(), events.TypePercent)
	last := percents[len(percents)-1].Data.(events.Percent)
	if last.Processed != 4 || last.Total != 4 || last.Percent != 100 {
		t.Fatalf("final accounting = %+v", last)
	}
}
