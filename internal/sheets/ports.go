// Package sheets mirrors GigFin entries into an external spreadsheet.
package sheets

import (
	"context"
	"strconv"

	"gigfin/internal/core"
)

// Ports for outbound adapters.
type (
	// IncomeWriter appends one income row and returns a reference to it.
	IncomeWriter interface {
		AppendIncome(ctx context.Context, e core.IncomeEntry) (rowRef string, err error)
	}

	ExpenseWriter interface {
		AppendExpense(ctx context.Context, e core.ExpenseEntry) (rowRef string, err error)
	}

	Mirror interface {
		IncomeWriter
		ExpenseWriter
	}
)

// IncomeHeader and ExpenseHeader are the column titles of the mirror sheets.
var (
	IncomeHeader  = []string{"ID", "User", "Date", "Platform", "Amount", "Notes"}
	ExpenseHeader = []string{"ID", "User", "Paid at", "Type", "Amount", "Vehicle", "Notes"}
)

// IncomeRow renders an income in IncomeHeader order.
func IncomeRow(e core.IncomeEntry) []any {
	return []any{e.ID, e.UserID, e.Date, e.Platform, e.Amount.StringFixed(2), e.Notes}
}

// ExpenseRow renders an expense in ExpenseHeader order. Amounts are in
// currency units, not cents.
func ExpenseRow(e core.ExpenseEntry) []any {
	vehicle := ""
	if e.VehicleProfileID != nil {
		vehicle = strconv.FormatInt(*e.VehicleProfileID, 10)
	}
	return []any{e.ID, e.UserID, core.DayKey(e.PaidAt, nil), e.ExpenseType.Label(), core.FormatMinor(e.AmountMinor), vehicle, e.Notes}
}
