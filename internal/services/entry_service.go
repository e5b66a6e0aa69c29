package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"gigfin/internal/amqp"
	"gigfin/internal/cache"
	"gigfin/internal/core"
	"gigfin/internal/listing"
	"gigfin/internal/log"
)

// Repository is the persistence the entry service needs. Every method is
// scoped by user id.
type Repository interface {
	ListIncomes(ctx context.Context, userID int64) ([]core.IncomeEntry, error)
	GetIncome(ctx context.Context, userID, id int64) (core.IncomeEntry, error)
	CreateIncome(ctx context.Context, e core.IncomeEntry) (core.IncomeEntry, error)
	UpdateIncome(ctx context.Context, e core.IncomeEntry) (core.IncomeEntry, error)
	DeleteIncome(ctx context.Context, userID, id int64) error

	ListExpenses(ctx context.Context, userID int64) ([]core.ExpenseEntry, error)
	GetExpense(ctx context.Context, userID, id int64) (core.ExpenseEntry, error)
	CreateExpense(ctx context.Context, e core.ExpenseEntry) (core.ExpenseEntry, error)
	UpdateExpense(ctx context.Context, e core.ExpenseEntry) (core.ExpenseEntry, error)
	DeleteExpense(ctx context.Context, userID, id int64) error

	ListOdometers(ctx context.Context, userID int64) ([]core.OdometerEntry, error)
	GetOdometer(ctx context.Context, userID, id int64) (core.OdometerEntry, error)
	CreateOdometer(ctx context.Context, e core.OdometerEntry) (core.OdometerEntry, error)
	UpdateOdometer(ctx context.Context, e core.OdometerEntry) (core.OdometerEntry, error)
	DeleteOdometer(ctx context.Context, userID, id int64) error

	ListVehicleProfiles(ctx context.Context, userID int64) ([]core.VehicleProfile, error)
	GetVehicleProfile(ctx context.Context, userID, id int64) (core.VehicleProfile, error)
	CreateVehicleProfile(ctx context.Context, v core.VehicleProfile) (core.VehicleProfile, error)
	UpdateVehicleProfile(ctx context.Context, v core.VehicleProfile) (core.VehicleProfile, error)
	DeleteVehicleProfile(ctx context.Context, userID, id int64) error

	ListChargingVendors(ctx context.Context, userID int64) ([]core.ChargingVendor, error)
	GetChargingVendor(ctx context.Context, userID, id int64) (core.ChargingVendor, error)
	CreateChargingVendor(ctx context.Context, v core.ChargingVendor) (core.ChargingVendor, error)
	UpdateChargingVendor(ctx context.Context, v core.ChargingVendor) (core.ChargingVendor, error)
	DeleteChargingVendor(ctx context.Context, userID, id int64) error

	ListActivity(ctx context.Context, userID int64, limit int) ([]core.Activity, error)
}

// Publisher announces entry changes to other processes.
type Publisher interface {
	PublishEntryChanged(ctx context.Context, msg *amqp.EntryChangedMessage) error
}

// EntryService orchestrates entry operations across SQLite, the query cache
// and AMQP. The cache and the publisher are both optional.
type EntryService struct {
	repo      Repository
	cache     *cache.Store
	publisher Publisher
	logger    *log.Logger
	events    *log.StructuredLogger
}

func NewEntryService(repo Repository, store *cache.Store, publisher Publisher) *EntryService {
	logger := log.WithComponent(log.ComponentEntries)
	return &EntryService{
		repo:      repo,
		cache:     store,
		publisher: publisher,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
}

// Snapshot is everything a user has recorded, loaded at once for
// dashboards and exports.
type Snapshot struct {
	Incomes   []core.IncomeEntry
	Expenses  []core.ExpenseEntry
	Odometers []core.OdometerEntry
	Vehicles  []core.VehicleProfile
}

// Snapshot loads the four entry lists in parallel. The result is cached as
// the user's dashboard query and dropped whenever any of the lists change.
func (s *EntryService) Snapshot(ctx context.Context, userID int64) (Snapshot, error) {
	return load(ctx, s.cache, userID, cache.QueryDashboard, func(ctx context.Context) (Snapshot, error) {
		var snap Snapshot
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			snap.Incomes, err = s.ListIncomes(gctx, userID)
			return err
		})
		g.Go(func() (err error) {
			snap.Expenses, err = s.ListExpenses(gctx, userID)
			return err
		})
		g.Go(func() (err error) {
			snap.Odometers, err = s.ListOdometers(gctx, userID)
			return err
		})
		g.Go(func() (err error) {
			snap.Vehicles, err = s.ListVehicleProfiles(gctx, userID)
			return err
		})
		if err := g.Wait(); err != nil {
			return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
		}
		return snap, nil
	})
}

// CombinedLog merges incomes and expenses into one unsorted row set,
// cached until either list changes.
func (s *EntryService) CombinedLog(ctx context.Context, userID int64) ([]listing.LogRow, error) {
	return load(ctx, s.cache, userID, cache.QueryCombined, func(ctx context.Context) ([]listing.LogRow, error) {
		incomes, err := s.ListIncomes(ctx, userID)
		if err != nil {
			return nil, err
		}
		expenses, err := s.ListExpenses(ctx, userID)
		if err != nil {
			return nil, err
		}
		return listing.Merge(incomes, expenses), nil
	})
}

// ListActivity returns the most recent change records of a user.
func (s *EntryService) ListActivity(ctx context.Context, userID int64, limit int) ([]core.Activity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListActivity(ctx, userID, limit)
}

// Incomes

func (s *EntryService) ListIncomes(ctx context.Context, userID int64) ([]core.IncomeEntry, error) {
	return load(ctx, s.cache, userID, string(cache.Incomes), func(ctx context.Context) ([]core.IncomeEntry, error) {
		return s.repo.ListIncomes(ctx, userID)
	})
}

func (s *EntryService) GetIncome(ctx context.Context, userID, id int64) (core.IncomeEntry, error) {
	return s.repo.GetIncome(ctx, userID, id)
}

func (s *EntryService) CreateIncome(ctx context.Context, userID int64, e core.IncomeEntry) (core.IncomeEntry, error) {
	e.UserID = userID
	if err := e.Validate(); err != nil {
		return core.IncomeEntry{}, err
	}
	created, err := s.repo.CreateIncome(ctx, e)
	if err != nil {
		return core.IncomeEntry{}, fmt.Errorf("save income: %w", err)
	}
	s.changed(ctx, userID, cache.Incomes, amqp.ActionCreate, created.ID)
	return created, nil
}

func (s *EntryService) UpdateIncome(ctx context.Context, userID int64, e core.IncomeEntry) (core.IncomeEntry, error) {
	e.UserID = userID
	if err := e.Validate(); err != nil {
		return core.IncomeEntry{}, err
	}
	updated, err := s.repo.UpdateIncome(ctx, e)
	if err != nil {
		return core.IncomeEntry{}, fmt.Errorf("update income: %w", err)
	}
	s.changed(ctx, userID, cache.Incomes, amqp.ActionUpdate, updated.ID)
	return updated, nil
}

func (s *EntryService) DeleteIncome(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteIncome(ctx, userID, id); err != nil {
		return fmt.Errorf("delete income: %w", err)
	}
	s.changed(ctx, userID, cache.Incomes, amqp.ActionDelete, id)
	return nil
}

// Expenses

func (s *EntryService) ListExpenses(ctx context.Context, userID int64) ([]core.ExpenseEntry, error) {
	return load(ctx, s.cache, userID, string(cache.Expenses), func(ctx context.Context) ([]core.ExpenseEntry, error) {
		return s.repo.ListExpenses(ctx, userID)
	})
}

func (s *EntryService) GetExpense(ctx context.Context, userID, id int64) (core.ExpenseEntry, error) {
	return s.repo.GetExpense(ctx, userID, id)
}

func (s *EntryService) CreateExpense(ctx context.Context, userID int64, e core.ExpenseEntry) (core.ExpenseEntry, error) {
	e.UserID = userID
	if err := s.validateExpense(ctx, e); err != nil {
		return core.ExpenseEntry{}, err
	}
	created, err := s.repo.CreateExpense(ctx, e)
	if err != nil {
		return core.ExpenseEntry{}, fmt.Errorf("save expense: %w", err)
	}
	s.changed(ctx, userID, cache.Expenses, amqp.ActionCreate, created.ID)
	return created, nil
}

func (s *EntryService) UpdateExpense(ctx context.Context, userID int64, e core.ExpenseEntry) (core.ExpenseEntry, error) {
	e.UserID = userID
	if err := s.validateExpense(ctx, e); err != nil {
		return core.ExpenseEntry{}, err
	}
	updated, err := s.repo.UpdateExpense(ctx, e)
	if err != nil {
		return core.ExpenseEntry{}, fmt.Errorf("update expense: %w", err)
	}
	s.changed(ctx, userID, cache.Expenses, amqp.ActionUpdate, updated.ID)
	return updated, nil
}

func (s *EntryService) DeleteExpense(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteExpense(ctx, userID, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	s.changed(ctx, userID, cache.Expenses, amqp.ActionDelete, id)
	return nil
}

func (s *EntryService) validateExpense(ctx context.Context, e core.ExpenseEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return s.checkVehicle(ctx, e.UserID, e.VehicleProfileID)
}

// Odometers

func (s *EntryService) ListOdometers(ctx context.Context, userID int64) ([]core.OdometerEntry, error) {
	return load(ctx, s.cache, userID, string(cache.Odometers), func(ctx context.Context) ([]core.OdometerEntry, error) {
		return s.repo.ListOdometers(ctx, userID)
	})
}

func (s *EntryService) GetOdometer(ctx context.Context, userID, id int64) (core.OdometerEntry, error) {
	return s.repo.GetOdometer(ctx, userID, id)
}

func (s *EntryService) CreateOdometer(ctx context.Context, userID int64, e core.OdometerEntry) (core.OdometerEntry, error) {
	e.UserID = userID
	if err := s.validateOdometer(ctx, e); err != nil {
		return core.OdometerEntry{}, err
	}
	created, err := s.repo.CreateOdometer(ctx, e)
	if err != nil {
		return core.OdometerEntry{}, fmt.Errorf("save odometer entry: %w", err)
	}
	s.changed(ctx, userID, cache.Odometers, amqp.ActionCreate, created.ID)
	return created, nil
}

func (s *EntryService) UpdateOdometer(ctx context.Context, userID int64, e core.OdometerEntry) (core.OdometerEntry, error) {
	e.UserID = userID
	if err := s.validateOdometer(ctx, e); err != nil {
		return core.OdometerEntry{}, err
	}
	updated, err := s.repo.UpdateOdometer(ctx, e)
	if err != nil {
		return core.OdometerEntry{}, fmt.Errorf("update odometer entry: %w", err)
	}
	s.changed(ctx, userID, cache.Odometers, amqp.ActionUpdate, updated.ID)
	return updated, nil
}

func (s *EntryService) DeleteOdometer(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteOdometer(ctx, userID, id); err != nil {
		return fmt.Errorf("delete odometer entry: %w", err)
	}
	s.changed(ctx, userID, cache.Odometers, amqp.ActionDelete, id)
	return nil
}

func (s *EntryService) validateOdometer(ctx context.Context, e core.OdometerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return s.checkVehicle(ctx, e.UserID, e.VehicleProfileID)
}

// Vehicle profiles

func (s *EntryService) ListVehicleProfiles(ctx context.Context, userID int64) ([]core.VehicleProfile, error) {
	return load(ctx, s.cache, userID, string(cache.VehicleProfiles), func(ctx context.Context) ([]core.VehicleProfile, error) {
		return s.repo.ListVehicleProfiles(ctx, userID)
	})
}

func (s *EntryService) GetVehicleProfile(ctx context.Context, userID, id int64) (core.VehicleProfile, error) {
	return s.repo.GetVehicleProfile(ctx, userID, id)
}

// CreateVehicleProfile stores a profile. When it is marked default the
// previous default loses the flag.
func (s *EntryService) CreateVehicleProfile(ctx context.Context, userID int64, v core.VehicleProfile) (core.VehicleProfile, error) {
	v.UserID = userID
	if err := v.Validate(); err != nil {
		return core.VehicleProfile{}, err
	}
	created, err := s.repo.CreateVehicleProfile(ctx, v)
	if err != nil {
		return core.VehicleProfile{}, fmt.Errorf("save vehicle profile: %w", err)
	}
	s.changed(ctx, userID, cache.VehicleProfiles, amqp.ActionCreate, created.ID)
	return created, nil
}

func (s *EntryService) UpdateVehicleProfile(ctx context.Context, userID int64, v core.VehicleProfile) (core.VehicleProfile, error) {
	v.UserID = userID
	if err := v.Validate(); err != nil {
		return core.VehicleProfile{}, err
	}
	updated, err := s.repo.UpdateVehicleProfile(ctx, v)
	if err != nil {
		return core.VehicleProfile{}, fmt.Errorf("update vehicle profile: %w", err)
	}
	s.changed(ctx, userID, cache.VehicleProfiles, amqp.ActionUpdate, updated.ID)
	return updated, nil
}

// DeleteVehicleProfile removes a profile. Entries that referenced it keep
// existing without a vehicle, and no other profile becomes the default.
func (s *EntryService) DeleteVehicleProfile(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteVehicleProfile(ctx, userID, id); err != nil {
		return fmt.Errorf("delete vehicle profile: %w", err)
	}
	s.changed(ctx, userID, cache.VehicleProfiles, amqp.ActionDelete, id)
	return nil
}

// Charging vendors

func (s *EntryService) ListChargingVendors(ctx context.Context, userID int64) ([]core.ChargingVendor, error) {
	return load(ctx, s.cache, userID, string(cache.ChargingVendors), func(ctx context.Context) ([]core.ChargingVendor, error) {
		return s.repo.ListChargingVendors(ctx, userID)
	})
}

func (s *EntryService) GetChargingVendor(ctx context.Context, userID, id int64) (core.ChargingVendor, error) {
	return s.repo.GetChargingVendor(ctx, userID, id)
}

func (s *EntryService) CreateChargingVendor(ctx context.Context, userID int64, v core.ChargingVendor) (core.ChargingVendor, error) {
	v.UserID = userID
	if err := v.Validate(); err != nil {
		return core.ChargingVendor{}, err
	}
	created, err := s.repo.CreateChargingVendor(ctx, v)
	if err != nil {
		return core.ChargingVendor{}, fmt.Errorf("save charging vendor: %w", err)
	}
	s.changed(ctx, userID, cache.ChargingVendors, amqp.ActionCreate, created.ID)
	return created, nil
}

func (s *EntryService) UpdateChargingVendor(ctx context.Context, userID int64, v core.ChargingVendor) (core.ChargingVendor, error) {
	v.UserID = userID
	if err := v.Validate(); err != nil {
		return core.ChargingVendor{}, err
	}
	updated, err := s.repo.UpdateChargingVendor(ctx, v)
	if err != nil {
		return core.ChargingVendor{}, fmt.Errorf("update charging vendor: %w", err)
	}
	s.changed(ctx, userID, cache.ChargingVendors, amqp.ActionUpdate, updated.ID)
	return updated, nil
}

func (s *EntryService) DeleteChargingVendor(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteChargingVendor(ctx, userID, id); err != nil {
		return fmt.Errorf("delete charging vendor: %w", err)
	}
	s.changed(ctx, userID, cache.ChargingVendors, amqp.ActionDelete, id)
	return nil
}

// checkVehicle rejects references to vehicle profiles the user does not own.
func (s *EntryService) checkVehicle(ctx context.Context, userID int64, vehicleID *int64) error {
	if vehicleID == nil {
		return nil
	}
	_, err := s.repo.GetVehicleProfile(ctx, userID, *vehicleID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Invalid("vehicleProfileId", core.ErrInvalidVehicle)
	}
	if err != nil {
		return fmt.Errorf("load vehicle profile: %w", err)
	}
	return nil
}

// changed runs after every successful mutation: dependent cached queries of
// the user are dropped, then the change is announced. Publishing is best
// effort; the entry is already saved.
func (s *EntryService) changed(ctx context.Context, userID int64, entity cache.Entity, action string, id int64) {
	if s.cache != nil {
		s.cache.Invalidate(userID, entity)
	}
	s.events.LogEntryChanged(ctx, userID, string(entity), action, id)

	if s.publisher == nil {
		return
	}
	msg := amqp.NewEntryChangedMessage(userID, string(entity), action, id)
	if err := s.publisher.PublishEntryChanged(ctx, msg); err != nil {
		s.logger.ErrorOp(ctx, "Failed to publish entry changed message", log.OpPublish, err,
			log.FieldEntity, entity, log.FieldEntityID, id)
	}
}

func load[T any](ctx context.Context, store *cache.Store, userID int64, query string, fetch func(context.Context) (T, error)) (T, error) {
	if store == nil {
		return fetch(ctx)
	}
	return cache.Load(ctx, store, userID, query, fetch)
}
