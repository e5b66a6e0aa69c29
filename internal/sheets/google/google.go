package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gigfin/internal/core"
	"gigfin/internal/log"
	ports "gigfin/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	incomesSheet  string
	expensesSheet string
	logger        *log.Logger
}

// Ensure interface conformance
var _ ports.Mirror = (*Client)(nil)

// Config selects the spreadsheet and the service account used to write it.
// CredentialsJSON wins over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	IncomesSheet    string // default "Incomes"
	ExpensesSheet   string // default "Expenses"
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if len(opts) == 0 {
		creds, err := credentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	c := &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		incomesSheet:  cfg.IncomesSheet,
		expensesSheet: cfg.ExpensesSheet,
		logger:        log.WithComponent(log.ComponentSheets),
	}
	if c.incomesSheet == "" {
		c.incomesSheet = "Incomes"
	}
	if c.expensesSheet == "" {
		c.expensesSheet = "Expenses"
	}
	c.logger.InfoContext(ctx, "Google Sheets service created",
		"spreadsheet_id", c.spreadsheetID,
		"incomes_sheet", c.incomesSheet,
		"expenses_sheet", c.expensesSheet)
	return c, nil
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

func (c *Client) AppendIncome(ctx context.Context, e core.IncomeEntry) (string, error) {
	return c.append(ctx, c.incomesSheet, ports.IncomeRow(e))
}

func (c *Client) AppendExpense(ctx context.Context, e core.ExpenseEntry) (string, error) {
	return c.append(ctx, c.expensesSheet, ports.ExpenseRow(e))
}

// append adds row after the last non-empty row of sheet and returns the
// A1 range that was written.
func (c *Client) append(ctx context.Context, sheet string, row []any) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:A", sheet)
	vr := &gsheet.ValueRange{Values: [][]any{row}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Row appended", log.FieldSheetsRange, ref)
	return ref, nil
}
