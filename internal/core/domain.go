package core

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	ExpenseFuelCharging ExpenseType = "fuel_charging"
	ExpenseMaintenance  ExpenseType = "maintenance"
	ExpenseInsurance    ExpenseType = "insurance"
	ExpenseRegistration ExpenseType = "registration"
	ExpenseParkingTolls ExpenseType = "parking_tolls"
	ExpensePhoneData    ExpenseType = "phone_data"
	ExpenseCleaning     ExpenseType = "cleaning"
	ExpenseEquipment    ExpenseType = "equipment"
	ExpenseOther        ExpenseType = "other"
)

const (
	UnitKWh       UnitRateUnit = "kwh"
	UnitLitre     UnitRateUnit = "litre"
	UnitGallonUS  UnitRateUnit = "gallon_us"
	UnitGallonImp UnitRateUnit = "gallon_imp"
)

const (
	VehicleEV     VehicleType = "EV"
	VehiclePetrol VehicleType = "PETROL"
	VehicleDiesel VehicleType = "DIESEL"
	VehicleHybrid VehicleType = "HYBRID"
)

type (
	ExpenseType  string
	UnitRateUnit string
	VehicleType  string

	IncomeEntry struct {
		ID        int64           `json:"id"`
		UserID    int64           `json:"userId"`
		Platform  string          `json:"platform"`
		Amount    decimal.Decimal `json:"amount"`
		Date      string          `json:"date"` // YYYY-MM-DD
		Notes     string          `json:"notes,omitempty"`
		CreatedAt time.Time       `json:"createdAt"`
	}

	ExpenseEntry struct {
		ID               int64           `json:"id"`
		UserID           int64           `json:"userId"`
		ExpenseType      ExpenseType     `json:"expenseType"`
		AmountMinor      int64           `json:"amountMinor"`
		PaidAt           string          `json:"paidAt"`
		UnitRateMinor    *int64          `json:"unitRateMinor"`
		UnitRateUnit     *UnitRateUnit   `json:"unitRateUnit"`
		VehicleProfileID *int64          `json:"vehicleProfileId"`
		Notes            string          `json:"notes,omitempty"`
		DetailsJSON      json.RawMessage `json:"detailsJson,omitempty"`
		CreatedAt        time.Time       `json:"createdAt"`
	}

	OdometerEntry struct {
		ID               int64     `json:"id"`
		UserID           int64     `json:"userId"`
		Date             string    `json:"date"`
		StartReading     float64   `json:"startReading"`
		EndReading       float64   `json:"endReading"`
		VehicleProfileID *int64    `json:"vehicleProfileId"`
		Notes            string    `json:"notes,omitempty"`
		CreatedAt        time.Time `json:"createdAt"`
	}

	VehicleProfile struct {
		ID          int64       `json:"id"`
		UserID      int64       `json:"userId"`
		Label       string      `json:"label"`
		VehicleType VehicleType `json:"vehicleType"`
		IsDefault   bool        `json:"isDefault"`
		CreatedAt   time.Time   `json:"createdAt"`
	}

	// ChargingVendor is a saved fuel station or charging network with an
	// optional reference unit price.
	ChargingVendor struct {
		ID            int64         `json:"id"`
		UserID        int64         `json:"userId"`
		Name          string        `json:"name"`
		UnitRateMinor *int64        `json:"unitRateMinor"`
		UnitRateUnit  *UnitRateUnit `json:"unitRateUnit"`
		Notes         string        `json:"notes,omitempty"`
		CreatedAt     time.Time     `json:"createdAt"`
	}
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidDate        = errors.New("invalid date")
	ErrEmptyPlatform      = errors.New("platform is required")
	ErrInvalidExpenseType = errors.New("invalid expense type")
	ErrInvalidUnit        = errors.New("invalid unit rate unit")
	ErrUnitRatePair       = errors.New("unit rate and unit must be set together")
	ErrUnitRateNotFuel    = errors.New("unit rate only applies to fuel_charging expenses")
	ErrInvalidReading     = errors.New("odometer readings must be finite and non-negative")
	ErrNegativeDistance   = errors.New("end reading must not be lower than start reading")
	ErrEmptyLabel         = errors.New("label is required")
	ErrEmptyName          = errors.New("name is required")
	ErrInvalidVehicleType = errors.New("invalid vehicle type")
	ErrInvalidDetails     = errors.New("details must be a JSON object")
	ErrTooLong            = errors.New("value too long")
	ErrInvalidVehicle     = errors.New("vehicle profile not found")
)

// ExpenseTypes lists every accepted expense type in display order.
var ExpenseTypes = []ExpenseType{
	ExpenseFuelCharging, ExpenseMaintenance, ExpenseInsurance, ExpenseRegistration,
	ExpenseParkingTolls, ExpensePhoneData, ExpenseCleaning, ExpenseEquipment, ExpenseOther,
}

var expenseTypeLabels = map[ExpenseType]string{
	ExpenseFuelCharging: "Fuel / Charging",
	ExpenseMaintenance:  "Maintenance",
	ExpenseInsurance:    "Insurance",
	ExpenseRegistration: "Registration",
	ExpenseParkingTolls: "Parking & Tolls",
	ExpensePhoneData:    "Phone & Data",
	ExpenseCleaning:     "Cleaning",
	ExpenseEquipment:    "Equipment",
	ExpenseOther:        "Other",
}

func (t ExpenseType) Valid() bool {
	_, ok := expenseTypeLabels[t]
	return ok
}

// Label returns the human readable name of the expense type.
func (t ExpenseType) Label() string {
	if l, ok := expenseTypeLabels[t]; ok {
		return l
	}
	return string(t)
}

func (u UnitRateUnit) Valid() bool {
	switch u {
	case UnitKWh, UnitLitre, UnitGallonUS, UnitGallonImp:
		return true
	}
	return false
}

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleEV, VehiclePetrol, VehicleDiesel, VehicleHybrid:
		return true
	}
	return false
}

// EntryDate, EntryVehicle and EntryAmount let the aggregation and listing
// packages treat the entry kinds uniformly.
func (e IncomeEntry) EntryDate() string            { return e.Date }
func (e IncomeEntry) EntryAmount() decimal.Decimal { return e.Amount }

func (e ExpenseEntry) EntryDate() string            { return e.PaidAt }
func (e ExpenseEntry) EntryVehicle() *int64         { return e.VehicleProfileID }
func (e ExpenseEntry) EntryAmount() decimal.Decimal { return MinorToDecimal(e.AmountMinor) }

func (e OdometerEntry) EntryDate() string    { return e.Date }
func (e OdometerEntry) EntryVehicle() *int64 { return e.VehicleProfileID }

// Distance is the driven distance of the shift.
func (e OdometerEntry) Distance() float64 {
	return e.EndReading - e.StartReading
}

// IsFuel reports whether the expense counts towards fuel/charging cost metrics.
func (e ExpenseEntry) IsFuel() bool {
	return e.ExpenseType == ExpenseFuelCharging
}

func (e IncomeEntry) Validate() error {
	if strings.TrimSpace(e.Platform) == "" {
		return invalid("platform", ErrEmptyPlatform)
	}
	if len(e.Platform) > 100 {
		return invalid("platform", ErrTooLong)
	}
	if !e.Amount.IsPositive() {
		return invalid("amount", ErrInvalidAmount)
	}
	if !IsDay(e.Date) {
		return invalid("date", ErrInvalidDate)
	}
	if len(e.Notes) > 500 {
		return invalid("notes", ErrTooLong)
	}
	return nil
}

func (e ExpenseEntry) Validate() error {
	if !e.ExpenseType.Valid() {
		return invalid("expenseType", ErrInvalidExpenseType)
	}
	if e.AmountMinor <= 0 {
		return invalid("amountMinor", ErrInvalidAmount)
	}
	if _, err := ParseDay(e.PaidAt, time.UTC); err != nil {
		return invalid("paidAt", ErrInvalidDate)
	}
	if err := validateUnitRate(e.UnitRateMinor, e.UnitRateUnit); err != nil {
		return err
	}
	if e.UnitRateMinor != nil && !e.IsFuel() {
		return invalid("unitRateMinor", ErrUnitRateNotFuel)
	}
	if len(e.Notes) > 500 {
		return invalid("notes", ErrTooLong)
	}
	if len(e.DetailsJSON) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(e.DetailsJSON, &obj); err != nil {
			return invalid("detailsJson", ErrInvalidDetails)
		}
	}
	return nil
}

func (e OdometerEntry) Validate() error {
	if !IsDay(e.Date) {
		return invalid("date", ErrInvalidDate)
	}
	for _, r := range []float64{e.StartReading, e.EndReading} {
		if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
			return invalid("reading", ErrInvalidReading)
		}
	}
	if e.EndReading < e.StartReading {
		return invalid("endReading", ErrNegativeDistance)
	}
	if len(e.Notes) > 500 {
		return invalid("notes", ErrTooLong)
	}
	return nil
}

func (v VehicleProfile) Validate() error {
	if strings.TrimSpace(v.Label) == "" {
		return invalid("label", ErrEmptyLabel)
	}
	if len(v.Label) > 60 {
		return invalid("label", ErrTooLong)
	}
	if !v.VehicleType.Valid() {
		return invalid("vehicleType", ErrInvalidVehicleType)
	}
	return nil
}

func (c ChargingVendor) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if len(c.Name) > 100 {
		return invalid("name", ErrTooLong)
	}
	if len(c.Notes) > 500 {
		return invalid("notes", ErrTooLong)
	}
	return validateUnitRate(c.UnitRateMinor, c.UnitRateUnit)
}

func validateUnitRate(rate *int64, unit *UnitRateUnit) error {
	if (rate == nil) != (unit == nil) {
		return invalid("unitRateUnit", ErrUnitRatePair)
	}
	if rate == nil {
		return nil
	}
	if *rate <= 0 {
		return invalid("unitRateMinor", ErrInvalidAmount)
	}
	if !unit.Valid() {
		return invalid("unitRateUnit", ErrInvalidUnit)
	}
	return nil
}
