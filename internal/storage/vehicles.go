package storage

import (
	"context"
	"database/sql"
	"fmt"

	"gigfin/internal/core"
)

const vehicleColumns = `id, user_id, label, vehicle_type, is_default, created_at`

func scanVehicle(s rowScanner) (core.VehicleProfile, error) {
	var (
		v       core.VehicleProfile
		created string
	)
	if err := s.Scan(&v.ID, &v.UserID, &v.Label, &v.VehicleType, &v.IsDefault, &created); err != nil {
		return v, err
	}
	v.CreatedAt = parseStamp(created)
	return v, nil
}

func (r *SQLiteRepository) ListVehicleProfiles(ctx context.Context, userID int64) ([]core.VehicleProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicle_profiles WHERE user_id = ? ORDER BY is_default DESC, label, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list vehicle profiles: %w", err)
	}
	return collect(rows, scanVehicle)
}

func (r *SQLiteRepository) GetVehicleProfile(ctx context.Context, userID, id int64) (core.VehicleProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicle_profiles WHERE id = ? AND user_id = ?`, id, userID)
	v, err := scanVehicle(row)
	return v, notFound(err)
}

// CreateVehicleProfile inserts v. When v is the new default, the previous
// default is cleared in the same transaction.
func (r *SQLiteRepository) CreateVehicleProfile(ctx context.Context, v core.VehicleProfile) (core.VehicleProfile, error) {
	var created core.VehicleProfile
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if v.IsDefault {
			if err := clearDefaultVehicle(ctx, tx, v.UserID); err != nil {
				return err
			}
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO vehicle_profiles (user_id, label, vehicle_type, is_default, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING `+vehicleColumns,
			v.UserID, v.Label, string(v.VehicleType), v.IsDefault, r.stamp())
		var err error
		created, err = scanVehicle(row)
		return err
	})
	if err != nil {
		return created, fmt.Errorf("create vehicle profile: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) UpdateVehicleProfile(ctx context.Context, v core.VehicleProfile) (core.VehicleProfile, error) {
	var updated core.VehicleProfile
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if v.IsDefault {
			if err := clearDefaultVehicle(ctx, tx, v.UserID); err != nil {
				return err
			}
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE vehicle_profiles SET label = ?, vehicle_type = ?, is_default = ?
			WHERE id = ? AND user_id = ?
			RETURNING `+vehicleColumns,
			v.Label, string(v.VehicleType), v.IsDefault, v.ID, v.UserID)
		var err error
		updated, err = scanVehicle(row)
		return notFound(err)
	})
	return updated, err
}

// DeleteVehicleProfile removes the profile. Entries referencing it keep
// existing with no vehicle, and no other profile becomes the default.
func (r *SQLiteRepository) DeleteVehicleProfile(ctx context.Context, userID, id int64) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM vehicle_profiles WHERE id = ? AND user_id = ?`, id, userID))
}

func clearDefaultVehicle(ctx context.Context, tx *sql.Tx, userID int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE vehicle_profiles SET is_default = 0 WHERE user_id = ? AND is_default = 1`, userID); err != nil {
		return fmt.Errorf("clear default vehicle: %w", err)
	}
	return nil
}

const vendorColumns = `id, user_id, name, unit_rate_minor, unit_rate_unit, notes, created_at`

func scanVendor(s rowScanner) (core.ChargingVendor, error) {
	var (
		v       core.ChargingVendor
		created string
	)
	if err := s.Scan(&v.ID, &v.UserID, &v.Name, &v.UnitRateMinor, &v.UnitRateUnit, &v.Notes, &created); err != nil {
		return v, err
	}
	v.CreatedAt = parseStamp(created)
	return v, nil
}

func (r *SQLiteRepository) ListChargingVendors(ctx context.Context, userID int64) ([]core.ChargingVendor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+vendorColumns+` FROM charging_vendors WHERE user_id = ? ORDER BY name, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list charging vendors: %w", err)
	}
	return collect(rows, scanVendor)
}

func (r *SQLiteRepository) GetChargingVendor(ctx context.Context, userID, id int64) (core.ChargingVendor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+vendorColumns+` FROM charging_vendors WHERE id = ? AND user_id = ?`, id, userID)
	v, err := scanVendor(row)
	return v, notFound(err)
}

func (r *SQLiteRepository) CreateChargingVendor(ctx context.Context, v core.ChargingVendor) (core.ChargingVendor, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO charging_vendors (user_id, name, unit_rate_minor, unit_rate_unit, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+vendorColumns,
		v.UserID, v.Name, nullInt(v.UnitRateMinor), nullUnit(v.UnitRateUnit), v.Notes, r.stamp())
	created, err := scanVendor(row)
	if err != nil {
		return created, fmt.Errorf("create charging vendor: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) UpdateChargingVendor(ctx context.Context, v core.ChargingVendor) (core.ChargingVendor, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE charging_vendors SET name = ?, unit_rate_minor = ?, unit_rate_unit = ?, notes = ?
		WHERE id = ? AND user_id = ?
		RETURNING `+vendorColumns,
		v.Name, nullInt(v.UnitRateMinor), nullUnit(v.UnitRateUnit), v.Notes, v.ID, v.UserID)
	updated, err := scanVendor(row)
	return updated, notFound(err)
}

func (r *SQLiteRepository) DeleteChargingVendor(ctx context.Context, userID, id int64) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM charging_vendors WHERE id = ? AND user_id = ?`, id, userID))
}
