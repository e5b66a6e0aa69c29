package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gigfin/internal/core"
	"gigfin/internal/listing"
	"gigfin/internal/log"
)

// resource serves list/get/create/patch/delete for one user-owned entity.
// When view is set, list requests carrying view parameters get a page
// instead of the full list.
type resource[T any] struct {
	name   string
	list   func(ctx context.Context, userID int64) ([]T, error)
	get    func(ctx context.Context, userID, id int64) (T, error)
	create func(ctx context.Context, userID int64, e T) (T, error)
	update func(ctx context.Context, userID int64, e T) (T, error)
	remove func(ctx context.Context, userID, id int64) error
	// decode reads the request body onto e, leaving absent fields untouched.
	decode func(w http.ResponseWriter, r *http.Request, e *T) error
	// setID stamps the path id on a patched entity.
	setID func(e *T, id int64)
	view  *listing.Collection[T]
}

func (res resource[T]) routes(r chi.Router) {
	r.Get("/", res.handleList)
	r.Post("/", res.handleCreate)
	r.Get("/{id}", res.handleGet)
	r.Patch("/{id}", res.handleUpdate)
	r.Delete("/{id}", res.handleDelete)
}

func (res resource[T]) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := res.list(r.Context(), currentUser(r).ID)
	if err != nil {
		respondError(w, r, log.OpList, err)
		return
	}
	if entries == nil {
		entries = []T{}
	}

	if res.view == nil || !listing.Paged(r.URL.Query()) {
		writeJSON(w, http.StatusOK, entries)
		return
	}
	q, err := listing.ParseQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, log.OpList, err)
		return
	}
	page := res.view.Apply(entries, q)
	if page.Items == nil {
		page.Items = []T{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (res resource[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	e, err := res.get(r.Context(), currentUser(r).ID, id)
	if err != nil {
		respondError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (res resource[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	var e T
	if err := res.decode(w, r, &e); err != nil {
		respondError(w, r, log.OpCreate, err)
		return
	}
	created, err := res.create(r.Context(), currentUser(r).ID, e)
	if err != nil {
		respondError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdate loads the stored entity, overlays the fields present in the
// body and saves the result. Concurrent edits are last write wins.
func (res resource[T]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	userID := currentUser(r).ID
	e, err := res.get(r.Context(), userID, id)
	if err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	if err := res.decode(w, r, &e); err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	res.setID(&e, id)
	updated, err := res.update(r.Context(), userID, e)
	if err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (res resource[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, log.OpDelete, err)
		return
	}
	if err := res.remove(r.Context(), currentUser(r).ID, id); err != nil {
		respondError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// decodeInto builds a resource decoder from a request DTO and its overlay.
func decodeInto[T, R any](apply func(R, *T)) func(http.ResponseWriter, *http.Request, *T) error {
	return func(w http.ResponseWriter, r *http.Request, e *T) error {
		var req R
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		apply(req, e)
		return nil
	}
}

func (s *Server) incomeResource() resource[core.IncomeEntry] {
	return resource[core.IncomeEntry]{
		name:   "incomes",
		list:   s.entries.ListIncomes,
		get:    s.entries.GetIncome,
		create: s.entries.CreateIncome,
		update: s.entries.UpdateIncome,
		remove: s.entries.DeleteIncome,
		decode: decodeInto(incomeRequest.apply),
		setID:  func(e *core.IncomeEntry, id int64) { e.ID = id },
		view:   listing.New(listing.IncomeSpec, s.cfg.DefaultPageSize, s.cfg.Location),
	}
}

func (s *Server) expenseResource() resource[core.ExpenseEntry] {
	return resource[core.ExpenseEntry]{
		name:   "expenses",
		list:   s.entries.ListExpenses,
		get:    s.entries.GetExpense,
		create: s.entries.CreateExpense,
		update: s.entries.UpdateExpense,
		remove: s.entries.DeleteExpense,
		decode: decodeInto(expenseRequest.apply),
		setID:  func(e *core.ExpenseEntry, id int64) { e.ID = id },
		view:   listing.New(listing.ExpenseSpec, s.cfg.DefaultPageSize, s.cfg.Location),
	}
}

func (s *Server) odometerResource() resource[core.OdometerEntry] {
	return resource[core.OdometerEntry]{
		name:   "odometers",
		list:   s.entries.ListOdometers,
		get:    s.entries.GetOdometer,
		create: s.entries.CreateOdometer,
		update: s.entries.UpdateOdometer,
		remove: s.entries.DeleteOdometer,
		decode: decodeInto(odometerRequest.apply),
		setID:  func(e *core.OdometerEntry, id int64) { e.ID = id },
		view:   listing.New(listing.OdometerSpec, s.cfg.DefaultPageSize, s.cfg.Location),
	}
}

func (s *Server) vehicleProfileResource() resource[core.VehicleProfile] {
	return resource[core.VehicleProfile]{
		name:   "vehicle-profiles",
		list:   s.entries.ListVehicleProfiles,
		get:    s.entries.GetVehicleProfile,
		create: s.entries.CreateVehicleProfile,
		update: s.entries.UpdateVehicleProfile,
		remove: s.entries.DeleteVehicleProfile,
		decode: decodeInto(vehicleProfileRequest.apply),
		setID:  func(v *core.VehicleProfile, id int64) { v.ID = id },
	}
}

func (s *Server) chargingVendorResource() resource[core.ChargingVendor] {
	return resource[core.ChargingVendor]{
		name:   "charging-vendors",
		list:   s.entries.ListChargingVendors,
		get:    s.entries.GetChargingVendor,
		create: s.entries.CreateChargingVendor,
		update: s.entries.UpdateChargingVendor,
		remove: s.entries.DeleteChargingVendor,
		decode: decodeInto(chargingVendorRequest.apply),
		setID:  func(v *core.ChargingVendor, id int64) { v.ID = id },
	}
}

// handleCombinedLog serves the merged income and expense log, always paged.
func (s *Server) handleCombinedLog(w http.ResponseWriter, r *http.Request) {
	q, err := listing.ParseQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, log.OpList, err)
		return
	}
	rows, err := s.entries.CombinedLog(r.Context(), currentUser(r).ID)
	if err != nil {
		respondError(w, r, log.OpList, err)
		return
	}
	page := s.combined.Apply(rows, q)
	if page.Items == nil {
		page.Items = []listing.LogRow{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100, 1, 500)
	if err != nil {
		respondError(w, r, log.OpList, err)
		return
	}
	records, err := s.entries.ListActivity(r.Context(), currentUser(r).ID, limit)
	if err != nil {
		respondError(w, r, log.OpList, err)
		return
	}
	if records == nil {
		records = []core.Activity{}
	}
	writeJSON(w, http.StatusOK, records)
}
