// Package report renders the three per-run CSV artifacts.
package report

import (
	"os"
	"path/filepath"
	"strings"

	logx "masivos/pkg/logx"
)

// Row types mirror the fixed CSV schemas. Values are written verbatim
// (no trimming); quoting follows the legacy rule below, not RFC 4180.

type AllRow struct {
	Telefono string
	Negocio  string
	Mando    string
}

type ValidRow struct {
	Telefono string
	Negocio  string
	Estado   string
	Mando    string
}

type InvalidRow struct {
	Telefono string
	Negocio  string
	Estado   string
	Motivo   string
}

const (
	headerAll     = "Telefono,Negocio,Mando Mensaje"
	headerValid   = "Telefono,Negocio,Estado,Mando Mensaje"
	headerInvalid = "Telefono,Negocio,Estado,Motivo"
)

// Paths locates the three written artifacts.
type Paths struct {
	All     string
	Valid   string
	Invalid string
}

// Generator writes report files into a fixed directory, namespaced by
// account id and timestamp.
type Generator struct {
	dir string
	log logx.Logger
}

func NewGenerator(dir string, log logx.Logger) (*Generator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Generator{dir: dir, log: log}, nil
}

// Write persists the three artifacts for one completed (or cancelled)
// run. stamp is the run completion timestamp, already formatted.
func (g *Generator) Write(accountID, stamp string, all []AllRow, valid []ValidRow, invalid []InvalidRow) (Paths, error) {
	p := Paths{
		All:     filepath.Join(g.dir, "report-"+accountID+"-"+stamp+".csv"),
		Valid:   filepath.Join(g.dir, "report-validos-"+accountID+"-"+stamp+".csv"),
		Invalid: filepath.Join(g.dir, "report-invalidos-"+accountID+"-"+stamp+".csv"),
	}

	var b strings.Builder
	b.WriteString(headerAll)
	for _, r := range all {
		b.WriteString("\n")
		writeLine(&b, r.Telefono, r.Negocio, r.Mando)
	}
	if err := os.WriteFile(p.All, []byte(b.String()), 0o644); err != nil {
		return Paths{}, err
	}

	b.Reset()
	b.WriteString(headerValid)
	for _, r := range valid {
		b.WriteString("\n")
		writeLine(&b, r.Telefono, r.Negocio, r.Estado, r.Mando)
	}
	if err := os.WriteFile(p.Valid, []byte(b.String()), 0o644); err != nil {
		return Paths{}, err
	}

	b.Reset()
	b.WriteString(headerInvalid)
	for _, r := range invalid {
		b.WriteString("\n")
		writeLine(&b, r.Telefono, r.Negocio, r.Estado, r.Motivo)
	}
	if err := os.WriteFile(p.Invalid, []byte(b.String()), 0o644); err != nil {
		return Paths{}, err
	}

	g.log.Debug("reports written", logx.String("account", accountID),
		logx.Int("all", len(all)), logx.Int("valid", len(valid)), logx.Int("invalid", len(invalid)))
	return p, nil
}

func writeLine(b *strings.Builder, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(escape(f))
	}
}

// escape implements the legacy quoting rule: embedded double quotes are
// always doubled, but the field is only wrapped in quotes when it
// contains a comma. Fields are emitted verbatim otherwise — consumers
// of these files depend on these exact bytes.
func escape(v string) string {
	s := strings.ReplaceAll(v, `"`, `""`)
	if strings.Contains(s, ",") {
		return `"` + s + `"`
	}
	return s
}
