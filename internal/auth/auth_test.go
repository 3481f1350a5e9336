package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeSecret(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "client_secret.json")
	secret := `{"installed":{"client_id":"id-123","client_secret":"sekrit","redirect_uris":["urn:ietf:wg:oauth:2.0:oob"]}}`
	require.NoError(t, os.WriteFile(path, []byte(secret), 0600))
	return path
}

func TestLoadClientSecret(t *testing.T) {
	t.Run("installed section", func(t *testing.T) {
		s, err := loadClientSecret(writeSecret(t))
		require.NoError(t, err)
		assert.Equal(t, "id-123", s.ClientID)
		assert.Equal(t, "sekrit", s.ClientSecret)
	})

	t.Run("web section", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client_secret.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"web":{"client_id":"w","client_secret":"s"}}`), 0600))

		s, err := loadClientSecret(path)
		require.NoError(t, err)
		assert.Equal(t, "w", s.ClientID)
	})

	t.Run("missing section", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client_secret.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

		_, err := loadClientSecret(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadClientSecret(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})
}

func TestTokenCache(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "credentials.json")
		token := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer"}

		require.NoError(t, saveToken(path, token))

		got, err := loadToken(path)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "at", got.AccessToken)
		assert.Equal(t, "rt", got.RefreshToken)
	})

	t.Run("absent cache is nil not error", func(t *testing.T) {
		got, err := loadToken(filepath.Join(t.TempDir(), "credentials.json"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("cache file is private", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		require.NoError(t, saveToken(path, &oauth2.Token{AccessToken: "at"}))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})
}

func TestClient(t *testing.T) {
	t.Run("interactive exchange caches token", func(t *testing.T) {
		tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "pasted-code", r.Form.Get("code"))

			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "fresh-token",
				"token_type":    "Bearer",
				"refresh_token": "refresh",
				"expires_in":    3600,
			}))
		}))
		defer tokenSrv.Close()

		credPath := filepath.Join(t.TempDir(), "credentials.json")
		var out bytes.Buffer

		a, err := NewAuthorizer(Options{
			SecretFile:      writeSecret(t),
			CredentialsFile: credPath,
			NoBrowser:       true,
			In:              strings.NewReader("pasted-code\n"),
			Out:             &out,
			Endpoint:        &oauth2.Endpoint{AuthURL: tokenSrv.URL + "/auth", TokenURL: tokenSrv.URL + "/token"},
		})
		require.NoError(t, err)

		client, err := a.Client(context.Background())
		require.NoError(t, err)
		require.NotNil(t, client)

		assert.Contains(t, out.String(), tokenSrv.URL+"/auth")

		cached, err := loadToken(credPath)
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Equal(t, "fresh-token", cached.AccessToken)
	})

	t.Run("cached token skips the interactive flow", func(t *testing.T) {
		credPath := filepath.Join(t.TempDir(), "credentials.json")
		require.NoError(t, saveToken(credPath, &oauth2.Token{
			AccessToken:  "cached",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
		}))

		a, err := NewAuthorizer(Options{
			SecretFile:      writeSecret(t),
			CredentialsFile: credPath,
			NoBrowser:       true,
			In:              strings.NewReader(""), // any read attempt would fail
			Out:             new(bytes.Buffer),
		})
		require.NoError(t, err)

		client, err := a.Client(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("new token discards the cache", func(t *testing.T) {
		credPath := filepath.Join(t.TempDir(), "credentials.json")
		require.NoError(t, saveToken(credPath, &oauth2.Token{AccessToken: "stale"}))

		var out bytes.Buffer
		a, err := NewAuthorizer(Options{
			SecretFile:      writeSecret(t),
			CredentialsFile: credPath,
			NewToken:        true,
			NoBrowser:       true,
			In:              strings.NewReader(""),
			Out:             &out,
		})
		require.NoError(t, err)

		// With the cache gone the flow needs a code; the empty reader
		// fails it, proving the cached token was not reused.
		_, err = a.Client(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authorization code")

		_, statErr := os.Stat(credPath)
		assert.True(t, os.IsNotExist(statErr))
	})
}
