package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"gigfin/internal/amqp"
	"gigfin/internal/core"
	"gigfin/internal/sheets/memory"
	"gigfin/internal/storage"
)

func setupWorker(t *testing.T) (*storage.SQLiteRepository, int64) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	u, err := repo.CreateUser(context.Background(), core.User{Email: "w@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return repo, u.ID
}

func TestActivityWorker_RecordsAndMirrors(t *testing.T) {
	ctx := context.Background()
	repo, userID := setupWorker(t)
	mirror := memory.New()
	w := NewActivityWorker(repo, mirror)

	inc, _ := repo.CreateIncome(ctx, core.IncomeEntry{UserID: userID, Platform: "Uber", Amount: decimal.NewFromInt(20), Date: "2024-05-01"})
	exp, _ := repo.CreateExpense(ctx, core.ExpenseEntry{UserID: userID, ExpenseType: core.ExpenseOther, AmountMinor: 700, PaidAt: "2024-05-01"})
	odo, _ := repo.CreateOdometer(ctx, core.OdometerEntry{UserID: userID, Date: "2024-05-01", StartReading: 1, EndReading: 2})

	msgs := []*amqp.EntryChangedMessage{
		amqp.NewEntryChangedMessage(userID, "incomes", amqp.ActionCreate, inc.ID),
		amqp.NewEntryChangedMessage(userID, "expenses", amqp.ActionCreate, exp.ID),
		amqp.NewEntryChangedMessage(userID, "odometers", amqp.ActionCreate, odo.ID),
		amqp.NewEntryChangedMessage(userID, "incomes", amqp.ActionUpdate, inc.ID),
		amqp.NewEntryChangedMessage(userID, "incomes", amqp.ActionCreate, 9999),
	}
	for _, m := range msgs {
		if err := w.HandleEntryChanged(ctx, m); err != nil {
			t.Fatalf("HandleEntryChanged(%+v) error = %v", m, err)
		}
	}

	incomes, expenses := mirror.Rows()
	if len(incomes) != 1 || len(expenses) != 1 {
		t.Errorf("mirrored %d incomes and %d expenses, want 1 and 1", len(incomes), len(expenses))
	}

	activity, err := repo.ListActivity(ctx, userID, 10)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(activity) != len(msgs) {
		t.Errorf("activity records = %d, want %d", len(activity), len(msgs))
	}
}

type failingStore struct {
	*storage.SQLiteRepository
	err error
}

func (f *failingStore) InsertActivity(context.Context, core.Activity) error { return f.err }

// flakyMirror fails income appends until failures reaches zero.
type flakyMirror struct {
	*memory.Store
	failures int
}

func (f *flakyMirror) AppendIncome(ctx context.Context, e core.IncomeEntry) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", errors.New("quota exceeded")
	}
	return f.Store.AppendIncome(ctx, e)
}

func TestActivityWorker_MirrorFailureRetries(t *testing.T) {
	ctx := context.Background()
	repo, userID := setupWorker(t)
	mirror := &flakyMirror{Store: memory.New(), failures: 1}
	w := NewActivityWorker(repo, mirror)

	inc, _ := repo.CreateIncome(ctx, core.IncomeEntry{UserID: userID, Platform: "Lyft", Amount: decimal.NewFromInt(3), Date: "2024-05-02"})
	msg := amqp.NewEntryChangedMessage(userID, "incomes", amqp.ActionCreate, inc.ID)
	if err := w.HandleEntryChanged(ctx, msg); err == nil {
		t.Fatal("expected an error so the message is retried")
	}
	if err := w.HandleEntryChanged(ctx, msg); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}

	if incomes, _ := mirror.Rows(); len(incomes) != 1 {
		t.Errorf("mirrored %d incomes, want 1", len(incomes))
	}
	if activity, _ := repo.ListActivity(ctx, userID, 10); len(activity) != 1 {
		t.Errorf("activity records = %d, want 1 after redelivery", len(activity))
	}
}

func TestActivityWorker_ActivityFailureSkipsMirror(t *testing.T) {
	ctx := context.Background()
	repo, userID := setupWorker(t)
	mirror := memory.New()
	w := NewActivityWorker(&failingStore{SQLiteRepository: repo, err: errors.New("database is locked")}, mirror)

	inc, _ := repo.CreateIncome(ctx, core.IncomeEntry{UserID: userID, Platform: "Uber", Amount: decimal.NewFromInt(9), Date: "2024-05-03"})
	msg := amqp.NewEntryChangedMessage(userID, "incomes", amqp.ActionCreate, inc.ID)
	for i := 0; i < 2; i++ {
		if err := w.HandleEntryChanged(ctx, msg); err == nil {
			t.Fatal("expected the activity error")
		}
	}
	if incomes, _ := mirror.Rows(); len(incomes) != 0 {
		t.Errorf("mirrored %d incomes before activity was recorded", len(incomes))
	}
}

func TestActivityWorker_NoMirror(t *testing.T) {
	ctx := context.Background()
	repo, userID := setupWorker(t)
	w := NewActivityWorker(repo, nil)

	if err := w.HandleEntryChanged(ctx, amqp.NewEntryChangedMessage(userID, "incomes", amqp.ActionDelete, 5)); err != nil {
		t.Fatalf("HandleEntryChanged() error = %v", err)
	}
	if activity, _ := repo.ListActivity(ctx, userID, 10); len(activity) != 1 || activity[0].EntityID != 5 {
		t.Errorf("activity = %+v", activity)
	}
}
