package aggregate

import (
	"github.com/shopspring/decimal"

	"gigfin/internal/core"
)

// Share is one slice of a distribution.
type Share struct {
	Key        string          `json:"key"`
	Label      string          `json:"label"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage float64         `json:"percentage"`
}

// Distribution groups entries by key and attaches each group's fraction of
// the grand total. A zero total yields zero fractions.
func Distribution[T any](entries []T, keyOf func(T) string, amountOf func(T) decimal.Decimal) []Share {
	groups := groupTotals(entries, keyOf, amountOf)
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.amount)
	}

	out := make([]Share, 0, len(groups))
	for _, g := range groups {
		s := Share{Key: g.key, Label: g.key, Amount: g.amount}
		if !total.IsZero() {
			s.Percentage = g.amount.Div(total).InexactFloat64()
		}
		out = append(out, s)
	}
	return out
}

func IncomeByPlatform(entries []core.IncomeEntry) []Share {
	return Distribution(entries, incomePlatform, incomeAmount)
}

// ExpensesByType labels each slice with the display name of its type.
func ExpensesByType(entries []core.ExpenseEntry) []Share {
	shares := Distribution(entries, expenseType, expenseAmount)
	for i := range shares {
		shares[i].Label = core.ExpenseType(shares[i].Key).Label()
	}
	return shares
}

func SumIncome(entries []core.IncomeEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

func SumExpenses(entries []core.ExpenseEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.EntryAmount())
	}
	return total
}

// SumDistance adds up driven distance. Entries with a negative span count
// as zero.
func SumDistance(entries []core.OdometerEntry) float64 {
	var total float64
	for _, e := range entries {
		if d := e.Distance(); d > 0 {
			total += d
		}
	}
	return total
}
