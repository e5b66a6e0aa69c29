package http

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gigfin/internal/export"
	"gigfin/internal/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleExport downloads incomes, expenses or everything as CSV, or as an
// XLSX workbook with ?format=xlsx.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	format := r.URL.Query().Get("format")
	switch format {
	case "":
		format = "csv"
	case "csv", "xlsx":
	default:
		respondError(w, r, log.OpExport, badRequest("format must be csv or xlsx"))
		return
	}

	snap, err := s.entries.Snapshot(r.Context(), currentUser(r).ID)
	if err != nil {
		respondError(w, r, log.OpExport, err)
		return
	}

	var tables []export.Table
	switch kind {
	case "incomes":
		tables = []export.Table{export.IncomesTable(snap.Incomes)}
	case "expenses":
		tables = []export.Table{export.ExpensesTable(snap.Expenses)}
	case "all":
		if format == "xlsx" {
			tables = []export.Table{
				export.CombinedTable(snap.Incomes, snap.Expenses),
				export.IncomesTable(snap.Incomes),
				export.ExpensesTable(snap.Expenses),
				export.OdometersTable(snap.Odometers),
			}
		} else {
			tables = []export.Table{export.CombinedTable(snap.Incomes, snap.Expenses)}
		}
	default:
		NotFoundError("unknown export " + sanitizeInput(kind)).Write(w)
		return
	}

	// Render to a buffer first so a failure can still produce a clean 500.
	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == "xlsx" {
		contentType = xlsxContentType
		err = export.WriteXLSX(&buf, tables...)
	} else {
		err = export.WriteCSV(&buf, tables[0])
	}
	if err != nil {
		respondError(w, r, log.OpExport, err)
		return
	}

	filename := fmt.Sprintf("gigfin-%s-%s.%s", kind, s.now().Format("2006-01-02"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	size := buf.Len()
	_, _ = buf.WriteTo(w)

	log.FromContext(r.Context()).InfoContext(r.Context(), "Export generated",
		log.FieldOperation, log.OpExport,
		"kind", kind,
		"format", format,
		"bytes", size)
}
