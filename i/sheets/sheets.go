// Package sheets appends contact rows to a Google spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/nick0131/solventics-website/contact"
)

// Scopes requested for the service account.
var Scopes = []string{
	sheetsapi.SpreadsheetsScope,
	sheetsapi.DriveScope,
}

const DefaultRange = "Sheet1"

type Config struct {
	SpreadsheetID   string
	Range           string
	CredentialsFile string
	CredentialsJSON string
}

// credentials returns the service account key, file taking precedence.
func (c Config) credentials() ([]byte, error) {
	if c.CredentialsFile != "" {
		b, err := os.ReadFile(c.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		return b, nil
	}
	if c.CredentialsJSON != "" {
		return []byte(c.CredentialsJSON), nil
	}
	return nil, contact.ErrNoCredentials
}

// Sheet is a contact.Store backed by one spreadsheet range.
type Sheet struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	rng           string
}

func New(ctx context.Context, spreadsheetID, rng string, opts ...option.ClientOption) (*Sheet, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: no spreadsheet id", contact.ErrNoCredentials)
	}
	if rng == "" {
		rng = DefaultRange
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}
	return &Sheet{svc: svc, spreadsheetID: spreadsheetID, rng: rng}, nil
}

// AppendRow inserts values as a new row after the last row of the range.
// Values are stored as plain strings, never parsed as formulas, numbers or dates.
func (s *Sheet) AppendRow(ctx context.Context, values []string) error {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	_, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, s.rng, &sheetsapi.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("appending row to %s: %w", s.rng, err)
	}
	return nil
}

// Opener builds an authenticated Sheet for every submission.
// Missing credentials or spreadsheet id yield contact.ErrNoCredentials.
func Opener(cfg Config, log *zap.Logger) contact.Opener {
	return func(ctx context.Context) (contact.Store, error) {
		creds, err := cfg.credentials()
		if err != nil {
			return nil, err
		}
		log.Debug("opening spreadsheet", zap.String("id", cfg.SpreadsheetID), zap.String("range", cfg.Range))
		return New(ctx, cfg.SpreadsheetID, cfg.Range,
			option.WithCredentialsJSON(creds),
			option.WithScopes(Scopes...),
		)
	}
}
