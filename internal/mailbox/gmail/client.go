package gmail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nhle/ticketwatch/internal/credential"
	"github.com/nhle/ticketwatch/internal/mailbox"
)

// NewService initializes an OAuth-backed Gmail service using:
//   - client credentials at <credentialDir>/client_secret.json
//   - a token cached in the system keyring (legacy fallback:
//     <credentialDir>/token.json)
//
// Scopes: gmail.readonly and gmail.modify. Token acquisition is out of
// scope here; a missing token is surfaced as an AuthError so the operator
// can re-provision one.
func NewService(ctx context.Context, credentialDir string) (*Service, error) {
	credPath := filepath.Join(credentialDir, "client_secret.json")
	b, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}

	cfg, err := google.ConfigFromJSON(b,
		gmailv1.GmailReadonlyScope,
		gmailv1.GmailModifyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	tok, err := credential.LoadToken(credentialDir)
	if err != nil {
		return nil, &mailbox.AuthError{
			Message: fmt.Sprintf("no cached OAuth token: %v", err),
		}
	}

	// Refreshed tokens are written back so the next start reuses them.
	src := saveOnRefresh{
		src:           cfg.TokenSource(ctx, tok),
		credentialDir: credentialDir,
		last:          tok,
	}

	svc, err := gmailv1.NewService(ctx, option.WithTokenSource(&src))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Service{svc: svc}, nil
}

// saveOnRefresh wraps a TokenSource and persists any newly refreshed token.
type saveOnRefresh struct {
	src           oauth2.TokenSource
	credentialDir string
	last          *oauth2.Token
}

func (s *saveOnRefresh) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		s.last = tok
		// Persisting is best-effort; the token still works this process.
		_ = credential.SaveToken(s.credentialDir, tok)
	}
	return tok, nil
}
