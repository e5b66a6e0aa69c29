package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"gigfin/internal/core"
)

type (
	PlatformAmount struct {
		Platform string          `json:"platform"`
		Amount   decimal.Decimal `json:"amount"`
	}

	CategoryAmount struct {
		Category core.ExpenseType `json:"category"`
		Label    string           `json:"label"`
		Amount   decimal.Decimal  `json:"amount"`
	}

	DailyIncomeSummary struct {
		Date      string             `json:"date"`
		Total     decimal.Decimal    `json:"total"`
		Entries   []core.IncomeEntry `json:"entries"`
		Breakdown []PlatformAmount   `json:"breakdown"`
	}

	DailyExpenseSummary struct {
		Date      string              `json:"date"`
		Total     decimal.Decimal     `json:"total"`
		Entries   []core.ExpenseEntry `json:"entries"`
		Breakdown []CategoryAmount    `json:"breakdown"`
	}

	MonthlySummary struct {
		Label string          `json:"label"`
		Year  int             `json:"year"`
		Month int             `json:"month"`
		Total decimal.Decimal `json:"total"`
	}
)

type keyedTotal struct {
	key    string
	amount decimal.Decimal
}

// groupTotals sums amounts per key and orders the groups by amount,
// highest first. Equal amounts keep first-seen order.
func groupTotals[T any](entries []T, keyOf func(T) string, amountOf func(T) decimal.Decimal) []keyedTotal {
	index := make(map[string]int)
	var out []keyedTotal
	for _, e := range entries {
		k := keyOf(e)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, keyedTotal{key: k})
		}
		out[i].amount = out[i].amount.Add(amountOf(e))
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].amount.GreaterThan(out[b].amount)
	})
	return out
}

// GroupIncomeByDay returns one summary per distinct date string, newest
// first, each with a per-platform breakdown.
func GroupIncomeByDay(entries []core.IncomeEntry) []DailyIncomeSummary {
	byDay := make(map[string]*DailyIncomeSummary)
	var days []string
	for _, e := range entries {
		s, ok := byDay[e.Date]
		if !ok {
			s = &DailyIncomeSummary{Date: e.Date}
			byDay[e.Date] = s
			days = append(days, e.Date)
		}
		s.Total = s.Total.Add(e.Amount)
		s.Entries = append(s.Entries, e)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	out := make([]DailyIncomeSummary, 0, len(days))
	for _, d := range days {
		s := byDay[d]
		for _, g := range groupTotals(s.Entries, incomePlatform, incomeAmount) {
			s.Breakdown = append(s.Breakdown, PlatformAmount{Platform: g.key, Amount: g.amount})
		}
		out = append(out, *s)
	}
	return out
}

// GroupExpensesByDay groups expenses by the calendar day of PaidAt in loc,
// newest first, each with a per-type breakdown. Unparsable dates are skipped.
func GroupExpensesByDay(entries []core.ExpenseEntry, loc *time.Location) []DailyExpenseSummary {
	byDay := make(map[string]*DailyExpenseSummary)
	var days []string
	for _, e := range entries {
		day := core.DayKey(e.PaidAt, loc)
		if day == "" {
			continue
		}
		s, ok := byDay[day]
		if !ok {
			s = &DailyExpenseSummary{Date: day}
			byDay[day] = s
			days = append(days, day)
		}
		s.Total = s.Total.Add(e.EntryAmount())
		s.Entries = append(s.Entries, e)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	out := make([]DailyExpenseSummary, 0, len(days))
	for _, d := range days {
		s := byDay[d]
		for _, g := range groupTotals(s.Entries, expenseType, expenseAmount) {
			t := core.ExpenseType(g.key)
			s.Breakdown = append(s.Breakdown, CategoryAmount{Category: t, Label: t.Label(), Amount: g.amount})
		}
		out = append(out, *s)
	}
	return out
}

// MonthlyTotals returns exactly n buckets, oldest first, ending with the
// month of now. Months without entries are zero-filled.
func MonthlyTotals[T Dated](entries []T, amountOf func(T) decimal.Decimal, now time.Time, n int) []MonthlySummary {
	if n <= 0 {
		return []MonthlySummary{}
	}
	first := time.Date(now.Year(), now.Month()-time.Month(n-1), 1, 0, 0, 0, 0, now.Location())
	return monthBuckets(entries, amountOf, first, n)
}

// CalendarYearTotals returns the twelve months of year, zero-filled.
func CalendarYearTotals[T Dated](entries []T, amountOf func(T) decimal.Decimal, year int, loc *time.Location) []MonthlySummary {
	if loc == nil {
		loc = time.UTC
	}
	return monthBuckets(entries, amountOf, time.Date(year, time.January, 1, 0, 0, 0, 0, loc), 12)
}

func monthBuckets[T Dated](entries []T, amountOf func(T) decimal.Decimal, first time.Time, n int) []MonthlySummary {
	out := make([]MonthlySummary, n)
	index := make(map[int]int, n)
	for i := 0; i < n; i++ {
		m := first.AddDate(0, i, 0)
		out[i] = MonthlySummary{
			Label: m.Month().String()[:3],
			Year:  m.Year(),
			Month: int(m.Month()),
			Total: decimal.Zero,
		}
		index[monthKey(m)] = i
	}
	for _, e := range entries {
		d, err := core.ParseDay(e.EntryDate(), first.Location())
		if err != nil {
			continue
		}
		if i, ok := index[monthKey(d)]; ok {
			out[i].Total = out[i].Total.Add(amountOf(e))
		}
	}
	return out
}

func monthKey(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

func incomePlatform(e core.IncomeEntry) string          { return e.Platform }
func incomeAmount(e core.IncomeEntry) decimal.Decimal   { return e.Amount }
func expenseType(e core.ExpenseEntry) string            { return string(e.ExpenseType) }
func expenseAmount(e core.ExpenseEntry) decimal.Decimal { return e.EntryAmount() }

// IncomeAmount and ExpenseAmount are amount accessors for the generic helpers.
var (
	IncomeAmount  = incomeAmount
	ExpenseAmount = expenseAmount
)
