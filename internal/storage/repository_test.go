package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gigfin/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "gigfin.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestUser(t *testing.T, repo *SQLiteRepository, email string) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), core.User{Email: email, PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func TestIncomeCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := newTestUser(t, repo, "alice@example.com")
	bob := newTestUser(t, repo, "bob@example.com")

	created, err := repo.CreateIncome(ctx, core.IncomeEntry{
		UserID: alice.ID, Platform: "Uber", Amount: decimal.RequireFromString("42.50"), Date: "2024-03-01",
	})
	if err != nil {
		t.Fatalf("CreateIncome() error = %v", err)
	}
	if created.ID == 0 || created.CreatedAt.IsZero() {
		t.Errorf("created = %+v", created)
	}
	if !created.Amount.Equal(decimal.RequireFromString("42.5")) {
		t.Errorf("amount = %s", created.Amount)
	}

	if _, err := repo.GetIncome(ctx, bob.ID, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user GetIncome() error = %v, want ErrNotFound", err)
	}

	created.Platform = "Lyft"
	updated, err := repo.UpdateIncome(ctx, created)
	if err != nil || updated.Platform != "Lyft" {
		t.Fatalf("UpdateIncome() = %+v, %v", updated, err)
	}

	foreign := created
	foreign.UserID = bob.ID
	if _, err := repo.UpdateIncome(ctx, foreign); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign UpdateIncome() error = %v, want ErrNotFound", err)
	}

	list, err := repo.ListIncomes(ctx, alice.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListIncomes() = %d rows, %v", len(list), err)
	}
	if list, _ := repo.ListIncomes(ctx, bob.ID); len(list) != 0 {
		t.Errorf("bob sees %d incomes", len(list))
	}

	if err := repo.DeleteIncome(ctx, bob.ID, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign DeleteIncome() error = %v", err)
	}
	if err := repo.DeleteIncome(ctx, alice.ID, created.ID); err != nil {
		t.Errorf("DeleteIncome() error = %v", err)
	}
	if err := repo.DeleteIncome(ctx, alice.ID, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteIncome() error = %v", err)
	}
}

func TestExpenseRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := newTestUser(t, repo, "driver@example.com")

	car, err := repo.CreateVehicleProfile(ctx, core.VehicleProfile{UserID: u.ID, Label: "Leaf", VehicleType: core.VehicleEV})
	if err != nil {
		t.Fatalf("CreateVehicleProfile() error = %v", err)
	}

	rate := int64(35)
	unit := core.UnitKWh
	e, err := repo.CreateExpense(ctx, core.ExpenseEntry{
		UserID: u.ID, ExpenseType: core.ExpenseFuelCharging, AmountMinor: 1250, PaidAt: "2024-03-02T08:15:00Z",
		UnitRateMinor: &rate, UnitRateUnit: &unit, VehicleProfileID: &car.ID,
		DetailsJSON: []byte(`{"kwh":35.7}`),
	})
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	got, err := repo.GetExpense(ctx, u.ID, e.ID)
	if err != nil {
		t.Fatalf("GetExpense() error = %v", err)
	}
	if got.UnitRateMinor == nil || *got.UnitRateMinor != 35 || got.UnitRateUnit == nil || *got.UnitRateUnit != core.UnitKWh {
		t.Errorf("unit rate = %v %v", got.UnitRateMinor, got.UnitRateUnit)
	}
	if got.VehicleProfileID == nil || *got.VehicleProfileID != car.ID {
		t.Errorf("vehicle = %v", got.VehicleProfileID)
	}
	if string(got.DetailsJSON) != `{"kwh":35.7}` {
		t.Errorf("details = %s", got.DetailsJSON)
	}

	plain, err := repo.CreateExpense(ctx, core.ExpenseEntry{UserID: u.ID, ExpenseType: core.ExpenseOther, AmountMinor: 100, PaidAt: "2024-03-03"})
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if plain.UnitRateMinor != nil || plain.VehicleProfileID != nil || plain.DetailsJSON != nil {
		t.Errorf("optional fields should be nil: %+v", plain)
	}

	if err := repo.DeleteVehicleProfile(ctx, u.ID, car.ID); err != nil {
		t.Fatalf("DeleteVehicleProfile() error = %v", err)
	}
	got, _ = repo.GetExpense(ctx, u.ID, e.ID)
	if got.VehicleProfileID != nil {
		t.Error("deleting a vehicle should detach its expenses")
	}
}

func TestSingleDefaultVehicle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := newTestUser(t, repo, "fleet@example.com")
	other := newTestUser(t, repo, "other@example.com")

	first, _ := repo.CreateVehicleProfile(ctx, core.VehicleProfile{UserID: u.ID, Label: "Prius", VehicleType: core.VehicleHybrid, IsDefault: true})
	otherDefault, _ := repo.CreateVehicleProfile(ctx, core.VehicleProfile{UserID: other.ID, Label: "Golf", VehicleType: core.VehiclePetrol, IsDefault: true})
	second, err := repo.CreateVehicleProfile(ctx, core.VehicleProfile{UserID: u.ID, Label: "Model 3", VehicleType: core.VehicleEV, IsDefault: true})
	if err != nil {
		t.Fatalf("CreateVehicleProfile() error = %v", err)
	}

	list, _ := repo.ListVehicleProfiles(ctx, u.ID)
	defaults := 0
	for _, v := range list {
		if v.IsDefault {
			defaults++
			if v.ID != second.ID {
				t.Errorf("default is %d, want %d", v.ID, second.ID)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("%d default vehicles, want 1", defaults)
	}

	if v, _ := repo.GetVehicleProfile(ctx, other.ID, otherDefault.ID); !v.IsDefault {
		t.Error("another user's default must not be cleared")
	}

	first.IsDefault = true
	if _, err := repo.UpdateVehicleProfile(ctx, first); err != nil {
		t.Fatalf("UpdateVehicleProfile() error = %v", err)
	}
	if v, _ := repo.GetVehicleProfile(ctx, u.ID, second.ID); v.IsDefault {
		t.Error("promoting first should clear second")
	}

	first.UserID = other.ID
	if _, err := repo.UpdateVehicleProfile(ctx, first); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign update error = %v", err)
	}
	if v, _ := repo.GetVehicleProfile(ctx, other.ID, otherDefault.ID); !v.IsDefault {
		t.Error("failed update must roll back the default reset")
	}
}

func TestOdometerAndVendors(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := newTestUser(t, repo, "odo@example.com")

	o, err := repo.CreateOdometer(ctx, core.OdometerEntry{UserID: u.ID, Date: "2024-03-01", StartReading: 1000, EndReading: 1080.5})
	if err != nil {
		t.Fatalf("CreateOdometer() error = %v", err)
	}
	if o.Distance() != 80.5 {
		t.Errorf("distance = %v", o.Distance())
	}

	rate := int64(189)
	unit := core.UnitLitre
	v, err := repo.CreateChargingVendor(ctx, core.ChargingVendor{UserID: u.ID, Name: "Shell", UnitRateMinor: &rate, UnitRateUnit: &unit})
	if err != nil {
		t.Fatalf("CreateChargingVendor() error = %v", err)
	}
	v.UnitRateMinor, v.UnitRateUnit = nil, nil
	v, err = repo.UpdateChargingVendor(ctx, v)
	if err != nil || v.UnitRateMinor != nil {
		t.Errorf("UpdateChargingVendor() = %+v, %v", v, err)
	}
}

func TestUsersAndSessions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := newTestUser(t, repo, "me@example.com")

	if _, err := repo.CreateUser(ctx, core.User{Email: "me@example.com", PasswordHash: "x"}); !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate email error = %v, want ErrConflict", err)
	}
	if _, err := repo.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByEmail() error = %v", err)
	}

	if err := repo.SetTOTP(ctx, u.ID, "SECRET", true); err != nil {
		t.Fatalf("SetTOTP() error = %v", err)
	}
	if got, _ := repo.GetUserByID(ctx, u.ID); !got.TOTPEnabled || got.TOTPSecret != "SECRET" {
		t.Errorf("user = %+v", got)
	}

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		err := repo.CreateSession(ctx, core.Session{ID: id, UserID: u.ID, ExpiresAt: now.Add(time.Hour), TwoFactorPending: id == "a"})
		if err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
	}
	s, err := repo.GetSession(ctx, "a")
	if err != nil || !s.TwoFactorPending || !s.Active(now) {
		t.Fatalf("GetSession() = %+v, %v", s, err)
	}
	if err := repo.CompleteTwoFactor(ctx, "a"); err != nil {
		t.Fatalf("CompleteTwoFactor() error = %v", err)
	}

	n, err := repo.RevokeOtherSessions(ctx, u.ID, "a")
	if err != nil || n != 2 {
		t.Errorf("RevokeOtherSessions() = %d, %v; want 2", n, err)
	}
	if s, _ := repo.GetSession(ctx, "b"); s.Active(now) {
		t.Error("session b should be revoked")
	}

	deleted, err := repo.DeleteExpiredSessions(ctx, now.Add(2*time.Hour))
	if err != nil || deleted != 3 {
		t.Errorf("DeleteExpiredSessions() = %d, %v; want 3", deleted, err)
	}
}

func TestActivity(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := newTestUser(t, repo, "log@example.com")

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := repo.InsertActivity(ctx, core.Activity{
			UserID: u.ID, Entity: "incomes", Action: "create", EntityID: int64(i + 1), OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertActivity() error = %v", err)
		}
	}
	list, err := repo.ListActivity(ctx, u.ID, 2)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListActivity() = %d, %v", len(list), err)
	}
	if list[0].EntityID != 3 || !list[0].OccurredAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("newest first, got %+v", list[0])
	}
}

func TestActivityRedelivery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := newTestUser(t, repo, "redeliver@example.com")

	event := core.Activity{
		UserID: u.ID, Entity: "expenses", Action: "create", EntityID: 4,
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
	for i := 0; i < 3; i++ {
		if err := repo.InsertActivity(ctx, event); err != nil {
			t.Fatalf("InsertActivity() attempt %d error = %v", i+1, err)
		}
	}
	later := event
	later.OccurredAt = event.OccurredAt.Add(time.Nanosecond)
	if err := repo.InsertActivity(ctx, later); err != nil {
		t.Fatalf("InsertActivity() error = %v", err)
	}

	list, err := repo.ListActivity(ctx, u.ID, 10)
	if err != nil || len(list) != 2 {
		t.Errorf("ListActivity() = %+v, %v; want the event once plus the later one", list, err)
	}
}
