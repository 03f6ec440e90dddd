// Package sheets reads a user's ledger from a Google Spreadsheet. It is
// read-only: the spreadsheet is the source of truth and insights are
// written elsewhere.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/log"
)

var _ ledger.LedgerView = (*Client)(nil)

type Config struct {
	SpreadsheetID string
	LedgerSheet   string // default "Ledger"
	BalanceSheet  string // optional User/Balance sheet
	DefaultUserID string

	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ledgerSheet   string
	balanceSheet  string
	defaultUser   string
}

// New builds a client with service-account credentials from cfg. Extra
// options are appended, which lets tests point the client at a local
// endpoint without credentials.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("%w: missing GOOGLE_SPREADSHEET_ID", core.ErrConfigurationMissing)
	}
	if cfg.LedgerSheet == "" {
		cfg.LedgerSheet = "Ledger"
	}
	if cfg.DefaultUserID == "" {
		cfg.DefaultUserID = "default"
	}

	credentialsJSON := []byte(strings.TrimSpace(cfg.CredentialsJSON))
	if len(credentialsJSON) == 0 && cfg.CredentialsFile != "" {
		slog.InfoContext(ctx, "Reading credentials from file", "path", cfg.CredentialsFile)
		var err error
		if credentialsJSON, err = os.ReadFile(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	}
	switch {
	case len(credentialsJSON) > 0:
		opts = append([]goption.ClientOption{
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsReadonlyScope),
		}, opts...)
	case len(opts) == 0:
		return nil, fmt.Errorf("%w: missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)", core.ErrConfigurationMissing)
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets ledger ready",
		"spreadsheet_id", cfg.SpreadsheetID,
		"ledger_sheet", cfg.LedgerSheet,
		"balance_sheet", cfg.BalanceSheet)

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		ledgerSheet:   cfg.LedgerSheet,
		balanceSheet:  cfg.BalanceSheet,
		defaultUser:   cfg.DefaultUserID,
	}, nil
}

func (c *Client) readRange(ctx context.Context, sheet string) ([][]interface{}, error) {
	start := time.Now()
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A:Z").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "Read sheet values",
		log.FieldComponent, log.ComponentSheets,
		"sheet", sheet,
		log.FieldCount, len(resp.Values),
		log.FieldDuration, time.Since(start).Milliseconds())
	return resp.Values, nil
}

func (c *Client) userTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	values, err := c.readRange(ctx, c.ledgerSheet)
	if err != nil {
		return nil, fmt.Errorf("read ledger sheet %s: %w", c.ledgerSheet, err)
	}
	byUser, err := parseLedger(values, c.defaultUser)
	if err != nil {
		return nil, err
	}
	return byUser[userID], nil
}

// ListTransactions returns the user's rows with Timestamp >= since.
func (c *Client) ListTransactions(ctx context.Context, userID string, since time.Time) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrInvalidUserID
	}
	txs, err := c.userTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := txs[:0:0]
	for _, tx := range txs {
		if !tx.Timestamp.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// CurrentBalance prefers the balance sheet and falls back to the last
// Balance cell in the ledger.
func (c *Client) CurrentBalance(ctx context.Context, userID string) (core.Money, error) {
	if userID == "" {
		return core.Money{}, core.ErrInvalidUserID
	}
	if c.balanceSheet != "" {
		values, err := c.readRange(ctx, c.balanceSheet)
		switch {
		case isMissingSheet(err):
			slog.DebugContext(ctx, "Balance sheet not found, using ledger balances", "sheet", c.balanceSheet)
		case err != nil:
			return core.Money{}, fmt.Errorf("read balance sheet %s: %w", c.balanceSheet, err)
		default:
			balances, err := parseBalances(values)
			if err != nil {
				return core.Money{}, err
			}
			if b, ok := balances[userID]; ok {
				return b, nil
			}
		}
	}

	txs, err := c.userTransactions(ctx, userID)
	if err != nil {
		return core.Money{}, err
	}
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].BalanceAfter != nil {
			return *txs[i].BalanceAfter, nil
		}
	}
	return core.Money{}, fmt.Errorf("balance of %s: %w", userID, core.ErrNotFound)
}

// ListUsers returns every user that appears in the ledger sheet.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	values, err := c.readRange(ctx, c.ledgerSheet)
	if err != nil {
		return nil, fmt.Errorf("read ledger sheet %s: %w", c.ledgerSheet, err)
	}
	byUser, err := parseLedger(values, c.defaultUser)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	slices.Sort(users)
	return users, nil
}

// A range on a sheet that does not exist is rejected with 400.
func isMissingSheet(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest
}
