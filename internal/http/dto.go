package http

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"gigfin/internal/aggregate"
	"gigfin/internal/core"
)

// nullable tells an absent field apart from an explicit null, which PATCH
// uses to clear optional references.
type nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if bytes.Equal(b, []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

func (n nullable[T]) applyTo(dst **T) {
	if n.Set {
		*dst = n.Value
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = sanitizeInput(*v)
	}
}

// Request bodies. Every field is optional so the same type serves create
// and PATCH; creates start from a zero entity and fail validation when a
// required field is missing.

type incomeRequest struct {
	Platform *string          `json:"platform"`
	Amount   *decimal.Decimal `json:"amount"`
	Date     *string          `json:"date"`
	Notes    *string          `json:"notes"`
}

func (req incomeRequest) apply(e *core.IncomeEntry) {
	setString(&e.Platform, req.Platform)
	setString(&e.Date, req.Date)
	setString(&e.Notes, req.Notes)
	if req.Amount != nil {
		e.Amount = req.Amount.Round(2)
	}
}

type expenseRequest struct {
	ExpenseType      *core.ExpenseType           `json:"expenseType"`
	AmountMinor      *int64                      `json:"amountMinor"`
	PaidAt           *string                     `json:"paidAt"`
	UnitRateMinor    nullable[int64]             `json:"unitRateMinor"`
	UnitRateUnit     nullable[core.UnitRateUnit] `json:"unitRateUnit"`
	VehicleProfileID nullable[int64]             `json:"vehicleProfileId"`
	Notes            *string                     `json:"notes"`
	DetailsJSON      json.RawMessage             `json:"detailsJson"`
}

func (req expenseRequest) apply(e *core.ExpenseEntry) {
	if req.ExpenseType != nil {
		e.ExpenseType = *req.ExpenseType
	}
	if req.AmountMinor != nil {
		e.AmountMinor = *req.AmountMinor
	}
	setString(&e.PaidAt, req.PaidAt)
	setString(&e.Notes, req.Notes)
	req.UnitRateMinor.applyTo(&e.UnitRateMinor)
	req.UnitRateUnit.applyTo(&e.UnitRateUnit)
	req.VehicleProfileID.applyTo(&e.VehicleProfileID)
	switch {
	case len(req.DetailsJSON) == 0:
	case bytes.Equal(req.DetailsJSON, []byte("null")):
		e.DetailsJSON = nil
	default:
		e.DetailsJSON = req.DetailsJSON
	}
}

type odometerRequest struct {
	Date             *string         `json:"date"`
	StartReading     *float64        `json:"startReading"`
	EndReading       *float64        `json:"endReading"`
	VehicleProfileID nullable[int64] `json:"vehicleProfileId"`
	Notes            *string         `json:"notes"`
}

func (req odometerRequest) apply(e *core.OdometerEntry) {
	setString(&e.Date, req.Date)
	setString(&e.Notes, req.Notes)
	if req.StartReading != nil {
		e.StartReading = *req.StartReading
	}
	if req.EndReading != nil {
		e.EndReading = *req.EndReading
	}
	req.VehicleProfileID.applyTo(&e.VehicleProfileID)
}

type vehicleProfileRequest struct {
	Label       *string           `json:"label"`
	VehicleType *core.VehicleType `json:"vehicleType"`
	IsDefault   *bool             `json:"isDefault"`
}

func (req vehicleProfileRequest) apply(v *core.VehicleProfile) {
	setString(&v.Label, req.Label)
	if req.VehicleType != nil {
		v.VehicleType = *req.VehicleType
	}
	if req.IsDefault != nil {
		v.IsDefault = *req.IsDefault
	}
}

type chargingVendorRequest struct {
	Name          *string                     `json:"name"`
	UnitRateMinor nullable[int64]             `json:"unitRateMinor"`
	UnitRateUnit  nullable[core.UnitRateUnit] `json:"unitRateUnit"`
	Notes         *string                     `json:"notes"`
}

func (req chargingVendorRequest) apply(v *core.ChargingVendor) {
	setString(&v.Name, req.Name)
	setString(&v.Notes, req.Notes)
	req.UnitRateMinor.applyTo(&v.UnitRateMinor)
	req.UnitRateUnit.applyTo(&v.UnitRateUnit)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type loginResponse struct {
	User              core.User `json:"user"`
	TwoFactorRequired bool      `json:"twoFactorRequired"`
}

type meResponse struct {
	User    core.User    `json:"user"`
	Session core.Session `json:"session"`
}

// monthlyResponse pairs income and expense buckets for the same months.
type monthlyResponse struct {
	Incomes  []aggregate.MonthlySummary `json:"incomes"`
	Expenses []aggregate.MonthlySummary `json:"expenses"`
}
