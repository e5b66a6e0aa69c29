package aggregate

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"gigfin/internal/core"
)

// Ratio is a derived per-distance figure. When the denominator is zero or
// the result is not a finite number the ratio is unavailable and encodes as
// JSON null.
type Ratio struct {
	Value     float64
	Available bool
}

var Unavailable = Ratio{}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Available {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Unavailable
		return nil
	}
	if err := json.Unmarshal(b, &r.Value); err != nil {
		return err
	}
	r.Available = true
	return nil
}

// NewRatio divides num by den. The sign of the result is kept.
func NewRatio(num, den float64) Ratio {
	if den == 0 {
		return Unavailable
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable
	}
	return Ratio{Value: v, Available: true}
}

// newCostRatio is NewRatio for figures that cannot be negative.
func newCostRatio(num, den float64) Ratio {
	r := NewRatio(num, den)
	if r.Available && r.Value < 0 {
		return Unavailable
	}
	return r
}

// FuelCostPerDistance divides fuel/charging spend by distance driven within
// r. Only fuel expenses paid on a day that also has an odometer entry in
// the range are counted, so fills on non-driving days do not skew the
// figure. With no such expense the ratio is unavailable, not zero.
func FuelCostPerDistance(expenses []core.ExpenseEntry, odometers []core.OdometerEntry, r Range) Ratio {
	loc := r.Start.Location()
	trips := FilterByRange(odometers, r)
	driven := make(map[string]bool, len(trips))
	for _, o := range trips {
		driven[core.DayKey(o.Date, loc)] = true
	}

	fuel := decimal.Zero
	matched := 0
	for _, e := range FilterByRange(expenses, r) {
		if !e.IsFuel() {
			continue
		}
		if driven[core.DayKey(e.PaidAt, loc)] {
			fuel = fuel.Add(e.EntryAmount())
			matched++
		}
	}
	if matched == 0 {
		return Unavailable
	}
	return newCostRatio(fuel.InexactFloat64(), SumDistance(trips))
}

// ProfitPerDistance is (income - expenses) / distance for the current
// calendar month.
func ProfitPerDistance(incomes []core.IncomeEntry, expenses []core.ExpenseEntry, odometers []core.OdometerEntry, now time.Time) Ratio {
	r, _ := Resolve(Monthly, now)
	profit := SumIncome(FilterByRange(incomes, r)).Sub(SumExpenses(FilterByRange(expenses, r)))
	return NewRatio(profit.InexactFloat64(), SumDistance(FilterByRange(odometers, r)))
}

// IncomePerDistance is income / distance for the current calendar month.
func IncomePerDistance(incomes []core.IncomeEntry, odometers []core.OdometerEntry, now time.Time) Ratio {
	r, _ := Resolve(Monthly, now)
	income := SumIncome(FilterByRange(incomes, r))
	return newCostRatio(income.InexactFloat64(), SumDistance(FilterByRange(odometers, r)))
}

// ForVehicle narrows expenses and odometer entries to one vehicle profile.
// A zero id leaves both slices untouched.
func ForVehicle(expenses []core.ExpenseEntry, odometers []core.OdometerEntry, vehicleID int64) ([]core.ExpenseEntry, []core.OdometerEntry) {
	if vehicleID == 0 {
		return expenses, odometers
	}
	return filterVehicle(expenses, vehicleID), filterVehicle(odometers, vehicleID)
}

type vehicleScoped interface {
	EntryVehicle() *int64
}

func filterVehicle[T vehicleScoped](entries []T, id int64) []T {
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		if v := e.EntryVehicle(); v != nil && *v == id {
			out = append(out, e)
		}
	}
	return out
}
