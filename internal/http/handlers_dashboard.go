package http

import (
	"math"
	"net/http"

	"gigfin/internal/aggregate"
	"gigfin/internal/core"
	"gigfin/internal/log"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tf, err := parseTimeframe(r)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	snap, err := s.entries.Snapshot(r.Context(), currentUser(r).ID)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	summary, err := aggregate.Summarize(snap.Incomes, snap.Expenses, snap.Odometers, tf, s.now())
	if err != nil {
		respondError(w, r, log.OpRead, badRequest("%s", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleDaily groups the entries of one kind inside the timeframe by day,
// newest day first.
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	tf, err := parseTimeframe(r)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	kind, err := parseKind(r)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	rng, err := aggregate.Resolve(tf, s.now())
	if err != nil {
		respondError(w, r, log.OpRead, badRequest("%s", err.Error()))
		return
	}

	userID := currentUser(r).ID
	if kind == "expense" {
		expenses, err := s.entries.ListExpenses(r.Context(), userID)
		if err != nil {
			respondError(w, r, log.OpRead, err)
			return
		}
		days := aggregate.GroupExpensesByDay(aggregate.FilterByRange(expenses, rng), s.cfg.Location)
		if days == nil {
			days = []aggregate.DailyExpenseSummary{}
		}
		writeJSON(w, http.StatusOK, days)
		return
	}

	incomes, err := s.entries.ListIncomes(r.Context(), userID)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	days := aggregate.GroupIncomeByDay(aggregate.FilterByRange(incomes, rng))
	if days == nil {
		days = []aggregate.DailyIncomeSummary{}
	}
	writeJSON(w, http.StatusOK, days)
}

// handleMonthly returns zero-filled month buckets: the trailing ?months=N
// (default 12) ending in the current month, or the twelve months of ?year=.
func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Has("months") && query.Has("year") {
		respondError(w, r, log.OpRead, badRequest("use either months or year, not both"))
		return
	}
	months, err := intQuery(r, "months", 12, 1, 60)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	year, err := intQuery(r, "year", 0, 1970, 9999)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}

	snap, err := s.entries.Snapshot(r.Context(), currentUser(r).ID)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}

	var resp monthlyResponse
	if year != 0 {
		resp.Incomes = aggregate.CalendarYearTotals(snap.Incomes, core.IncomeEntry.EntryAmount, year, s.cfg.Location)
		resp.Expenses = aggregate.CalendarYearTotals(snap.Expenses, core.ExpenseEntry.EntryAmount, year, s.cfg.Location)
	} else {
		now := s.now()
		resp.Incomes = aggregate.MonthlyTotals(snap.Incomes, core.IncomeEntry.EntryAmount, now, months)
		resp.Expenses = aggregate.MonthlyTotals(snap.Expenses, core.ExpenseEntry.EntryAmount, now, months)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	tf, err := parseTimeframe(r)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	kind, err := parseKind(r)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	rng, err := aggregate.Resolve(tf, s.now())
	if err != nil {
		respondError(w, r, log.OpRead, badRequest("%s", err.Error()))
		return
	}

	userID := currentUser(r).ID
	var shares []aggregate.Share
	if kind == "expense" {
		expenses, err := s.entries.ListExpenses(r.Context(), userID)
		if err != nil {
			respondError(w, r, log.OpRead, err)
			return
		}
		shares = aggregate.ExpensesByType(aggregate.FilterByRange(expenses, rng))
	} else {
		incomes, err := s.entries.ListIncomes(r.Context(), userID)
		if err != nil {
			respondError(w, r, log.OpRead, err)
			return
		}
		shares = aggregate.IncomeByPlatform(aggregate.FilterByRange(incomes, rng))
	}
	if shares == nil {
		shares = []aggregate.Share{}
	}
	writeJSON(w, http.StatusOK, shares)
}

// handleDrivingCosts reports per-distance figures, optionally for one of
// the caller's vehicles.
func (s *Server) handleDrivingCosts(w http.ResponseWriter, r *http.Request) {
	tf, err := parseTimeframe(r)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	n, err := intQuery(r, "vehicleId", 0, 1, math.MaxInt32)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	vehicleID := int64(n)

	userID := currentUser(r).ID
	if vehicleID != 0 {
		if _, err := s.entries.GetVehicleProfile(r.Context(), userID, vehicleID); err != nil {
			respondError(w, r, log.OpRead, err)
			return
		}
	}
	snap, err := s.entries.Snapshot(r.Context(), userID)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	costs, err := aggregate.ComputeDrivingCosts(snap.Incomes, snap.Expenses, snap.Odometers, tf, vehicleID, s.now())
	if err != nil {
		respondError(w, r, log.OpRead, badRequest("%s", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, costs)
}
