package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"gigfin/internal/core"
)

// Summary is the headline block of the dashboard for one timeframe.
type Summary struct {
	Timeframe           Timeframe       `json:"timeframe"`
	Range               Range           `json:"range"`
	IncomeTotal         decimal.Decimal `json:"incomeTotal"`
	ExpenseTotal        decimal.Decimal `json:"expenseTotal"`
	Net                 decimal.Decimal `json:"net"`
	Distance            float64         `json:"distance"`
	IncomeCount         int             `json:"incomeCount"`
	ExpenseCount        int             `json:"expenseCount"`
	ShiftCount          int             `json:"shiftCount"`
	FuelCostPerDistance Ratio           `json:"fuelCostPerDistance"`
	IncomePerDistance   Ratio           `json:"incomePerDistance"`
	ProfitPerDistance   Ratio           `json:"profitPerDistance"`
}

// Summarize computes totals and ratios for tf. Ratios here are scoped to the
// resolved timeframe rather than the current month.
func Summarize(incomes []core.IncomeEntry, expenses []core.ExpenseEntry, odometers []core.OdometerEntry, tf Timeframe, now time.Time) (Summary, error) {
	r, err := Resolve(tf, now)
	if err != nil {
		return Summary{}, err
	}
	in := FilterByRange(incomes, r)
	out := FilterByRange(expenses, r)
	trips := FilterByRange(odometers, r)

	s := Summary{
		Timeframe:    tf,
		Range:        r,
		IncomeTotal:  SumIncome(in),
		ExpenseTotal: SumExpenses(out),
		Distance:     SumDistance(trips),
		IncomeCount:  len(in),
		ExpenseCount: len(out),
		ShiftCount:   len(trips),
	}
	s.Net = s.IncomeTotal.Sub(s.ExpenseTotal)
	s.FuelCostPerDistance = FuelCostPerDistance(out, trips, r)
	s.IncomePerDistance = newCostRatio(s.IncomeTotal.InexactFloat64(), s.Distance)
	s.ProfitPerDistance = NewRatio(s.Net.InexactFloat64(), s.Distance)
	return s, nil
}

// DrivingCosts reports the per-distance figures for one vehicle (or all when
// vehicleID is zero) over tf, alongside the current-month ratios.
type DrivingCosts struct {
	Timeframe           Timeframe       `json:"timeframe"`
	VehicleID           int64           `json:"vehicleId,omitempty"`
	Distance            float64         `json:"distance"`
	FuelSpend           decimal.Decimal `json:"fuelSpend"`
	FuelCostPerDistance Ratio           `json:"fuelCostPerDistance"`
	MonthIncomePerDist  Ratio           `json:"monthIncomePerDistance"`
	MonthProfitPerDist  Ratio           `json:"monthProfitPerDistance"`
}

func ComputeDrivingCosts(incomes []core.IncomeEntry, expenses []core.ExpenseEntry, odometers []core.OdometerEntry, tf Timeframe, vehicleID int64, now time.Time) (DrivingCosts, error) {
	r, err := Resolve(tf, now)
	if err != nil {
		return DrivingCosts{}, err
	}
	expenses, odometers = ForVehicle(expenses, odometers, vehicleID)

	fuel := decimal.Zero
	for _, e := range FilterByRange(expenses, r) {
		if e.IsFuel() {
			fuel = fuel.Add(e.EntryAmount())
		}
	}
	return DrivingCosts{
		Timeframe:           tf,
		VehicleID:           vehicleID,
		Distance:            SumDistance(FilterByRange(odometers, r)),
		FuelSpend:           fuel,
		FuelCostPerDistance: FuelCostPerDistance(expenses, odometers, r),
		MonthIncomePerDist:  IncomePerDistance(incomes, odometers, now),
		MonthProfitPerDist:  ProfitPerDistance(incomes, expenses, odometers, now),
	}, nil
}
