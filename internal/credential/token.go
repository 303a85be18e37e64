package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// LoadToken reads the cached OAuth token, preferring the keyring and
// falling back to a token.json file next to the client secret.
func LoadToken(credentialDir string) (*oauth2.Token, error) {
	if raw, err := Get(credentialDir, TokenKey); err == nil {
		var tok oauth2.Token
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			return nil, fmt.Errorf("decode keyring token: %w", err)
		}
		return &tok, nil
	}

	path := filepath.Join(credentialDir, "token.json")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken stores an OAuth token in the keyring as JSON.
func SaveToken(credentialDir string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return Set(credentialDir, TokenKey, string(raw))
}
