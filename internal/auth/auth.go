// Package auth produces an authenticated HTTP client for the Google
// Photos Library API using the OAuth2 installed-application flow.
// Tokens are cached on disk between runs; only the first run (or a run
// after --new-token) is interactive.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"golang.org/x/oauth2"
)

const appName = "gphotosync"

// Scopes cover read-only library access plus sharing metadata for
// shared album indexing.
var Scopes = []string{
	"https://www.googleapis.com/auth/photoslibrary.readonly",
	"https://www.googleapis.com/auth/photoslibrary.sharing",
}

// googleEndpoint avoids pulling in the oauth2/google subpackage for
// two constant URLs.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// redirectOOB makes Google display the authorization code for manual
// copy/paste instead of redirecting to a local listener.
const redirectOOB = "urn:ietf:wg:oauth:2.0:oob"

// Options configures an Authorizer.
type Options struct {
	// SecretFile is the downloaded OAuth client secret. Defaults to
	// client_secret.json in the user config dir.
	SecretFile string

	// CredentialsFile caches the obtained token. Defaults to
	// credentials.json in the app data dir.
	CredentialsFile string

	// NewToken discards any cached token and runs the flow again.
	NewToken bool

	// NoBrowser skips launching a browser; the auth URL is printed
	// for cut and paste.
	NoBrowser bool

	// In and Out carry the interactive exchange (code prompt). They
	// default to stdin/stdout.
	In  io.Reader
	Out io.Writer

	// Endpoint overrides the token endpoint (tests).
	Endpoint *oauth2.Endpoint
}

// Authorizer drives the token flow and hands out authenticated clients.
type Authorizer struct {
	opts Options
}

func NewAuthorizer(opts Options) (*Authorizer, error) {
	if opts.SecretFile == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user config dir: %w", err)
		}
		opts.SecretFile = filepath.Join(configDir, appName, "client_secret.json")
	}
	if opts.CredentialsFile == "" {
		opts.CredentialsFile = filepath.Join(gfconfig.GetAppDataDir(appName), "credentials.json")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Authorizer{opts: opts}, nil
}

// Client returns an *http.Client whose transport injects a valid
// access token, refreshing and re-caching it as needed.
func (a *Authorizer) Client(ctx context.Context) (*http.Client, error) {
	cfg, err := a.oauthConfig()
	if err != nil {
		return nil, err
	}

	if a.opts.NewToken {
		if err := os.Remove(a.opts.CredentialsFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("discard cached token: %w", err)
		}
	}

	token, err := loadToken(a.opts.CredentialsFile)
	if err != nil {
		return nil, err
	}
	if token == nil {
		token, err = a.exchangeInteractive(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := saveToken(a.opts.CredentialsFile, token); err != nil {
			return nil, err
		}
	}

	src := &persistingTokenSource{
		src:  cfg.TokenSource(ctx, token),
		path: a.opts.CredentialsFile,
		last: token,
	}
	return oauth2.NewClient(ctx, src), nil
}

func (a *Authorizer) oauthConfig() (*oauth2.Config, error) {
	secret, err := loadClientSecret(a.opts.SecretFile)
	if err != nil {
		return nil, err
	}

	endpoint := googleEndpoint
	if a.opts.Endpoint != nil {
		endpoint = *a.opts.Endpoint
	}

	return &oauth2.Config{
		ClientID:     secret.ClientID,
		ClientSecret: secret.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectOOB,
		Scopes:       Scopes,
	}, nil
}

// exchangeInteractive runs the code flow: open (or print) the auth
// URL, read the pasted code, exchange it for a token.
func (a *Authorizer) exchangeInteractive(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

	if !a.opts.NoBrowser {
		_ = openBrowser(url)
	}
	_, _ = fmt.Fprintf(a.opts.Out, "Visit this URL to authorize access:\n%s\n\nEnter the authorization code: ", url)

	var code string
	if _, err := fmt.Fscan(a.opts.In, &code); err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}

	token, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return token, nil
}

// persistingTokenSource re-caches the token whenever a refresh
// produces a new one, so the next run stays non-interactive.
type persistingTokenSource struct {
	src  oauth2.TokenSource
	path string
	last *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != p.last.AccessToken {
		p.last = token
		if err := saveToken(p.path, token); err != nil {
			return nil, err
		}
	}
	return token, nil
}

type clientSecret struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// loadClientSecret reads the Google-format client secret file, which
// nests credentials under "installed" (or "web" for web clients).
func loadClientSecret(path string) (*clientSecret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secret %s: %w", path, err)
	}

	var wrapper map[string]clientSecret
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}

	for _, key := range []string{"installed", "web"} {
		if s, ok := wrapper[key]; ok && s.ClientID != "" {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("client secret %s has no installed or web section", path)
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached token %s: %w", path, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse cached token: %w", err)
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write token %s: %w", path, err)
	}
	return nil
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
