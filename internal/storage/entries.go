package storage

import (
	"context"
	"database/sql"
	"fmt"

	"gigfin/internal/core"
)

const incomeColumns = `id, user_id, platform, amount, date, notes, created_at`

func scanIncome(s rowScanner) (core.IncomeEntry, error) {
	var (
		e       core.IncomeEntry
		created string
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.Platform, &e.Amount, &e.Date, &e.Notes, &created); err != nil {
		return e, err
	}
	e.CreatedAt = parseStamp(created)
	return e, nil
}

func (r *SQLiteRepository) ListIncomes(ctx context.Context, userID int64) ([]core.IncomeEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+incomeColumns+` FROM income_entries WHERE user_id = ? ORDER BY date DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list incomes: %w", err)
	}
	return collect(rows, scanIncome)
}

func (r *SQLiteRepository) GetIncome(ctx context.Context, userID, id int64) (core.IncomeEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+incomeColumns+` FROM income_entries WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanIncome(row)
	return e, notFound(err)
}

func (r *SQLiteRepository) CreateIncome(ctx context.Context, e core.IncomeEntry) (core.IncomeEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO income_entries (user_id, platform, amount, date, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+incomeColumns,
		e.UserID, e.Platform, e.Amount.String(), e.Date, e.Notes, r.stamp())
	created, err := scanIncome(row)
	if err != nil {
		return created, fmt.Errorf("create income: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) UpdateIncome(ctx context.Context, e core.IncomeEntry) (core.IncomeEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE income_entries SET platform = ?, amount = ?, date = ?, notes = ?
		WHERE id = ? AND user_id = ?
		RETURNING `+incomeColumns,
		e.Platform, e.Amount.String(), e.Date, e.Notes, e.ID, e.UserID)
	updated, err := scanIncome(row)
	return updated, notFound(err)
}

func (r *SQLiteRepository) DeleteIncome(ctx context.Context, userID, id int64) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM income_entries WHERE id = ? AND user_id = ?`, id, userID))
}

const expenseColumns = `id, user_id, expense_type, amount_minor, paid_at, unit_rate_minor, unit_rate_unit,
	vehicle_profile_id, notes, details_json, created_at`

func scanExpense(s rowScanner) (core.ExpenseEntry, error) {
	var (
		e       core.ExpenseEntry
		details sql.NullString
		created string
	)
	err := s.Scan(&e.ID, &e.UserID, &e.ExpenseType, &e.AmountMinor, &e.PaidAt, &e.UnitRateMinor, &e.UnitRateUnit,
		&e.VehicleProfileID, &e.Notes, &details, &created)
	if err != nil {
		return e, err
	}
	if details.Valid {
		e.DetailsJSON = []byte(details.String)
	}
	e.CreatedAt = parseStamp(created)
	return e, nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID int64) ([]core.ExpenseEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expense_entries WHERE user_id = ? ORDER BY paid_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return collect(rows, scanExpense)
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, userID, id int64) (core.ExpenseEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expense_entries WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanExpense(row)
	return e, notFound(err)
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.ExpenseEntry) (core.ExpenseEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO expense_entries (user_id, expense_type, amount_minor, paid_at, unit_rate_minor, unit_rate_unit,
			vehicle_profile_id, notes, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+expenseColumns,
		e.UserID, string(e.ExpenseType), e.AmountMinor, e.PaidAt, nullInt(e.UnitRateMinor), nullUnit(e.UnitRateUnit),
		nullInt(e.VehicleProfileID), e.Notes, nullString(e.DetailsJSON), r.stamp())
	created, err := scanExpense(row)
	if err != nil {
		return created, fmt.Errorf("create expense: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.ExpenseEntry) (core.ExpenseEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE expense_entries SET expense_type = ?, amount_minor = ?, paid_at = ?, unit_rate_minor = ?,
			unit_rate_unit = ?, vehicle_profile_id = ?, notes = ?, details_json = ?
		WHERE id = ? AND user_id = ?
		RETURNING `+expenseColumns,
		string(e.ExpenseType), e.AmountMinor, e.PaidAt, nullInt(e.UnitRateMinor), nullUnit(e.UnitRateUnit),
		nullInt(e.VehicleProfileID), e.Notes, nullString(e.DetailsJSON), e.ID, e.UserID)
	updated, err := scanExpense(row)
	return updated, notFound(err)
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID, id int64) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM expense_entries WHERE id = ? AND user_id = ?`, id, userID))
}

const odometerColumns = `id, user_id, date, start_reading, end_reading, vehicle_profile_id, notes, created_at`

func scanOdometer(s rowScanner) (core.OdometerEntry, error) {
	var (
		e       core.OdometerEntry
		created string
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.Date, &e.StartReading, &e.EndReading, &e.VehicleProfileID, &e.Notes, &created); err != nil {
		return e, err
	}
	e.CreatedAt = parseStamp(created)
	return e, nil
}

func (r *SQLiteRepository) ListOdometers(ctx context.Context, userID int64) ([]core.OdometerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+odometerColumns+` FROM odometer_entries WHERE user_id = ? ORDER BY date DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list odometer entries: %w", err)
	}
	return collect(rows, scanOdometer)
}

func (r *SQLiteRepository) GetOdometer(ctx context.Context, userID, id int64) (core.OdometerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+odometerColumns+` FROM odometer_entries WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanOdometer(row)
	return e, notFound(err)
}

func (r *SQLiteRepository) CreateOdometer(ctx context.Context, e core.OdometerEntry) (core.OdometerEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO odometer_entries (user_id, date, start_reading, end_reading, vehicle_profile_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+odometerColumns,
		e.UserID, e.Date, e.StartReading, e.EndReading, nullInt(e.VehicleProfileID), e.Notes, r.stamp())
	created, err := scanOdometer(row)
	if err != nil {
		return created, fmt.Errorf("create odometer entry: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) UpdateOdometer(ctx context.Context, e core.OdometerEntry) (core.OdometerEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE odometer_entries SET date = ?, start_reading = ?, end_reading = ?, vehicle_profile_id = ?, notes = ?
		WHERE id = ? AND user_id = ?
		RETURNING `+odometerColumns,
		e.Date, e.StartReading, e.EndReading, nullInt(e.VehicleProfileID), e.Notes, e.ID, e.UserID)
	updated, err := scanOdometer(row)
	return updated, notFound(err)
}

func (r *SQLiteRepository) DeleteOdometer(ctx context.Context, userID, id int64) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM odometer_entries WHERE id = ? AND user_id = ?`, id, userID))
}
