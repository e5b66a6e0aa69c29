// Package export renders entries as CSV or XLSX downloads.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"gigfin/internal/core"
	"gigfin/internal/listing"
)

// Table is a titled grid of already formatted values. Numeric lists the
// columns written as numbers in spreadsheets.
type Table struct {
	Name    string
	Header  []string
	Rows    [][]string
	Numeric []int
}

var (
	IncomeHeader   = []string{"id", "date", "platform", "amount", "notes", "created_at"}
	ExpenseHeader  = []string{"id", "paid_at", "expense_type", "amount", "unit_rate", "unit_rate_unit", "vehicle_profile_id", "notes", "created_at"}
	OdometerHeader = []string{"id", "date", "start_reading", "end_reading", "distance", "vehicle_profile_id", "notes", "created_at"}
	CombinedHeader = []string{"kind", "id", "date", "category", "label", "amount", "vehicle_profile_id", "notes"}
)

func IncomesTable(entries []core.IncomeEntry) Table {
	t := Table{Name: "Incomes", Header: IncomeHeader, Numeric: []int{3}}
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{
			id(e.ID), e.Date, e.Platform, e.Amount.StringFixed(2), e.Notes, stamp(e.CreatedAt),
		})
	}
	return t
}

// ExpensesTable writes amounts and unit rates in currency units.
func ExpensesTable(entries []core.ExpenseEntry) Table {
	t := Table{Name: "Expenses", Header: ExpenseHeader, Numeric: []int{3, 4}}
	for _, e := range entries {
		rate, unit := "", ""
		if e.UnitRateMinor != nil {
			rate = core.FormatMinor(*e.UnitRateMinor)
		}
		if e.UnitRateUnit != nil {
			unit = string(*e.UnitRateUnit)
		}
		t.Rows = append(t.Rows, []string{
			id(e.ID), e.PaidAt, string(e.ExpenseType), core.FormatMinor(e.AmountMinor),
			rate, unit, optionalID(e.VehicleProfileID), e.Notes, stamp(e.CreatedAt),
		})
	}
	return t
}

func OdometersTable(entries []core.OdometerEntry) Table {
	t := Table{Name: "Odometers", Header: OdometerHeader, Numeric: []int{2, 3, 4}}
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{
			id(e.ID), e.Date, reading(e.StartReading), reading(e.EndReading), reading(e.Distance()),
			optionalID(e.VehicleProfileID), e.Notes, stamp(e.CreatedAt),
		})
	}
	return t
}

// CombinedTable merges incomes and expenses, newest first.
func CombinedTable(incomes []core.IncomeEntry, expenses []core.ExpenseEntry) Table {
	rows := listing.Merge(incomes, expenses)
	sorted := listing.New(listing.CombinedSpec, 0, time.UTC).All(rows, listing.Query{SortBy: "date", Desc: true})

	t := Table{Name: "All", Header: CombinedHeader, Numeric: []int{5}}
	for _, r := range sorted {
		t.Rows = append(t.Rows, []string{
			r.Kind, id(r.ID), r.Date, r.Category, r.Label, r.Amount.StringFixed(2), optionalID(r.VehicleID), r.Notes,
		})
	}
	return t
}

// WriteCSV writes t with every field double-quoted and embedded quotes
// doubled, one record per line.
func WriteCSV(w io.Writer, t Table) error {
	var b strings.Builder
	writeRecord(&b, t.Header)
	for _, row := range t.Rows {
		writeRecord(&b, row)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func writeRecord(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(Quote(f))
	}
	b.WriteString("\r\n")
}

// Quote wraps s in double quotes, doubling any quote inside it.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteXLSX writes one worksheet per table.
func WriteXLSX(w io.Writer, tables ...Table) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), t.Name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return fmt.Errorf("create sheet %s: %w", t.Name, err)
		}
		if err := writeSheet(f, t); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, t Table) error {
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(t.Name, "A1", &header); err != nil {
		return fmt.Errorf("write header of %s: %w", t.Name, err)
	}

	numeric := make(map[int]bool, len(t.Numeric))
	for _, c := range t.Numeric {
		numeric[c] = true
	}
	for r, row := range t.Rows {
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = v
			if numeric[c] && v != "" {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					cells[c] = n
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.Name, cell, &cells); err != nil {
			return fmt.Errorf("write row %d of %s: %w", r+2, t.Name, err)
		}
	}
	return nil
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func optionalID(v *int64) string {
	if v == nil {
		return ""
	}
	return id(*v)
}

func reading(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
