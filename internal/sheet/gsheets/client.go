package gsheets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/nhle/ticketwatch/internal/credential"
	"github.com/nhle/ticketwatch/internal/mailbox"
)

// NewService initializes an OAuth-backed Sheets service for one spreadsheet.
// It shares the client secret and cached token with the Gmail adapter; the
// provisioned token must carry the spreadsheets scope alongside the gmail
// ones.
func NewService(ctx context.Context, credentialDir, spreadsheetID string) (*Service, error) {
	credPath := filepath.Join(credentialDir, "client_secret.json")
	b, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}

	cfg, err := google.ConfigFromJSON(b, sheetsv4.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	tok, err := credential.LoadToken(credentialDir)
	if err != nil {
		return nil, &mailbox.AuthError{
			Message: fmt.Sprintf("no cached OAuth token: %v", err),
		}
	}

	svc, err := sheetsv4.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Service{
		svc:           svc,
		spreadsheetID: spreadsheetID,
	}, nil
}

// Service implements sheet.Sheet on the Google Sheets API for a single
// spreadsheet.
type Service struct {
	svc           *sheetsv4.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// sheetID resolves a worksheet title to its numeric sheet id, caching the
// mapping. forceRefresh re-reads spreadsheet metadata first.
func (s *Service) sheetID(ctx context.Context, title string, forceRefresh bool) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sheetIDs == nil || forceRefresh {
		resp, err := s.svc.Spreadsheets.Get(s.spreadsheetID).
			Fields("sheets.properties").
			Context(ctx).
			Do()
		if err != nil {
			return 0, false, fmt.Errorf("get spreadsheet metadata: %w", err)
		}

		ids := make(map[string]int64, len(resp.Sheets))
		for _, sh := range resp.Sheets {
			if sh.Properties != nil {
				ids[sh.Properties.Title] = sh.Properties.SheetId
			}
		}
		s.sheetIDs = ids
	}

	id, ok := s.sheetIDs[title]
	return id, ok, nil
}

// invalidateSheetIDs drops the title→id cache after structural changes.
func (s *Service) invalidateSheetIDs() {
	s.mu.Lock()
	s.sheetIDs = nil
	s.mu.Unlock()
}
