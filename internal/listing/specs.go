package listing

import (
	"cmp"
	"strings"

	"github.com/shopspring/decimal"

	"gigfin/internal/core"
)

const (
	KindIncome  = "income"
	KindExpense = "expense"
)

// LogRow is one line of the combined income and expense log.
type LogRow struct {
	Kind      string          `json:"kind"`
	ID        int64           `json:"id"`
	Date      string          `json:"date"`
	Label     string          `json:"label"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	VehicleID *int64          `json:"vehicleProfileId,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// Merge flattens incomes and expenses into combined log rows. Income rows
// are categorised by platform, expense rows by expense type.
func Merge(incomes []core.IncomeEntry, expenses []core.ExpenseEntry) []LogRow {
	rows := make([]LogRow, 0, len(incomes)+len(expenses))
	for _, e := range incomes {
		rows = append(rows, LogRow{
			Kind: KindIncome, ID: e.ID, Date: e.Date,
			Label: e.Platform, Category: e.Platform,
			Amount: e.Amount, Notes: e.Notes,
		})
	}
	for _, e := range expenses {
		rows = append(rows, LogRow{
			Kind: KindExpense, ID: e.ID, Date: e.PaidAt,
			Label: e.ExpenseType.Label(), Category: string(e.ExpenseType),
			Amount: e.EntryAmount(), VehicleID: e.VehicleProfileID, Notes: e.Notes,
		})
	}
	return rows
}

var IncomeSpec = Spec[core.IncomeEntry]{
	Date:     func(e core.IncomeEntry) string { return e.Date },
	Category: func(e core.IncomeEntry) string { return e.Platform },
	Sorts: map[string]func(a, b core.IncomeEntry) int{
		"date":     func(a, b core.IncomeEntry) int { return CompareDates(a.Date, b.Date) },
		"amount":   func(a, b core.IncomeEntry) int { return a.Amount.Cmp(b.Amount) },
		"platform": func(a, b core.IncomeEntry) int { return strings.Compare(strings.ToLower(a.Platform), strings.ToLower(b.Platform)) },
	},
}

var ExpenseSpec = Spec[core.ExpenseEntry]{
	Date:     func(e core.ExpenseEntry) string { return e.PaidAt },
	Category: func(e core.ExpenseEntry) string { return string(e.ExpenseType) },
	Vehicle:  func(e core.ExpenseEntry) *int64 { return e.VehicleProfileID },
	Sorts: map[string]func(a, b core.ExpenseEntry) int{
		"date":   func(a, b core.ExpenseEntry) int { return CompareDates(a.PaidAt, b.PaidAt) },
		"amount": func(a, b core.ExpenseEntry) int { return cmp.Compare(a.AmountMinor, b.AmountMinor) },
		"type":   func(a, b core.ExpenseEntry) int { return strings.Compare(string(a.ExpenseType), string(b.ExpenseType)) },
	},
}

var OdometerSpec = Spec[core.OdometerEntry]{
	Date:    func(e core.OdometerEntry) string { return e.Date },
	Vehicle: func(e core.OdometerEntry) *int64 { return e.VehicleProfileID },
	Sorts: map[string]func(a, b core.OdometerEntry) int{
		"date":     func(a, b core.OdometerEntry) int { return CompareDates(a.Date, b.Date) },
		"distance": func(a, b core.OdometerEntry) int { return cmp.Compare(a.Distance(), b.Distance()) },
	},
}

var CombinedSpec = Spec[LogRow]{
	Date:     func(r LogRow) string { return r.Date },
	Category: func(r LogRow) string { return r.Category },
	Vehicle:  func(r LogRow) *int64 { return r.VehicleID },
	Sorts: map[string]func(a, b LogRow) int{
		"date":   func(a, b LogRow) int { return CompareDates(a.Date, b.Date) },
		"amount": func(a, b LogRow) int { return a.Amount.Cmp(b.Amount) },
		"kind":   func(a, b LogRow) int { return strings.Compare(a.Kind, b.Kind) },
	},
}
