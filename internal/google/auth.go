package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	credentialsFile = "credentials.json"
	tokenPrefix     = "token-"
	tokenSuffix     = ".json"
	// The auth command reads the authorization code from the terminal.
	redirectOOB = "urn:ietf:wg:oauth:2.0:oob"
)

// ErrNoAccount is returned when no account token has been saved yet.
var ErrNoAccount = errors.New("no google account token found, run the 'auth' command first")

// OAuthConfig returns the OAuth2 client for the calendar scope. A client id
// and secret pair takes precedence over credentials.json in the working directory.
func OAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	return oauthConfig(clientID, clientSecret, credentialsFile)
}

func oauthConfig(clientID, clientSecret, credentialsPath string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectOOB,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	raw, err := os.ReadFile(credentialsPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or provide %s", credentialsPath)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", credentialsPath, err)
	}

	cfg, err := google.ConfigFromJSON(raw, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", credentialsPath, err)
	}
	cfg.RedirectURL = redirectOOB
	return cfg, nil
}

// TokenFile is the path of the token saved for account in dir.
func TokenFile(dir, account string) string {
	return filepath.Join(dir, tokenPrefix+account+tokenSuffix)
}

// SaveToken writes token to file, readable by the owner only.
func SaveToken(file string, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(file, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func loadToken(file string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", file, err)
	}
	return &token, nil
}

// Accounts lists, in lexical order, the accounts with a token file in dir.
func Accounts(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, tokenPrefix+"*"+tokenSuffix))
	if err != nil {
		return nil, err
	}
	return lo.Map(files, func(file string, _ int) string {
		return strings.TrimSuffix(strings.TrimPrefix(filepath.Base(file), tokenPrefix), tokenSuffix)
	}), nil
}

// ResolveAccount picks the account to sync with. An explicit account wins;
// otherwise the first saved account is used, with a warning when there are several.
func ResolveAccount(logger *slog.Logger, dir, account string) (string, error) {
	if account != "" {
		return account, nil
	}
	accounts, err := Accounts(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list google accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", ErrNoAccount
	}
	if len(accounts) > 1 {
		logger.Warn("Several Google accounts found, using the first. Set GOOGLE_ACCOUNT to choose.",
			"account", accounts[0], "accounts", accounts)
	}
	return accounts[0], nil
}
