package contacts

import (
	"encoding/csv"
	"errors"
	"io"
)

// Ingest column headers. Values are carried verbatim: no trimming, the
// message cell in particular must reach the channel byte-for-byte.
const (
	colNombre   = "Nombre"
	colTelefono = "Telefono"
	colMensaje  = "Mensaje"
)

var ErrNoHeader = errors.New("contacts: csv has no header row")

// ParseCSV reads a header-keyed contact CSV into ordered rows.
//
// Parsing is deliberately lax (ragged rows and stray quotes are
// tolerated) because the lists come from spreadsheet exports; a cell
// missing from a short row maps to "".
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[name] = i
	}

	cell := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{
			Nombre:   cell(rec, colNombre),
			Telefono: cell(rec, colTelefono),
			Mensaje:  cell(rec, colMensaje),
		})
	}
	return rows, nil
}
