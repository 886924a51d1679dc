package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{Mode: ModeDisabled}},
		{name: "apikey", cfg: Config{Mode: ModeAPIKey, APIKey: "k"}},
		{name: "apikey missing", cfg: Config{Mode: ModeAPIKey}, wantErr: true},
		{name: "oauth2 token url", cfg: Config{Mode: ModeOAuth2, ClientID: "id", ClientSecret: "s", TokenURL: "https://idp/token"}},
		{name: "oauth2 issuer", cfg: Config{Mode: ModeOAuth2, ClientID: "id", ClientSecret: "s", IssuerURL: "https://idp"}},
		{name: "oauth2 no endpoint", cfg: Config{Mode: ModeOAuth2, ClientID: "id", ClientSecret: "s"}, wantErr: true},
		{name: "oauth2 no secret", cfg: Config{Mode: ModeOAuth2, ClientID: "id", TokenURL: "https://idp/token"}, wantErr: true},
		{name: "unknown", cfg: Config{Mode: "kerberos"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate() expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() err=%v", err)
			}
		})
	}
}

func TestConfigFromEnvInfersAPIKeyMode(t *testing.T) {
	t.Setenv("MLREG_API_KEY", "secret")
	cfg, err := ConfigFromEnv(Config{})
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Mode != ModeAPIKey || cfg.APIKey != "secret" {
		t.Fatalf("ConfigFromEnv()=%+v", cfg)
	}
}

func TestConfigFromEnvMissingKey(t *testing.T) {
	t.Setenv("MLREG_AUTH_MODE", "apikey")
	_, err := ConfigFromEnv(Config{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("ConfigFromEnv() err=%v, want ErrMissingCredentials", err)
	}
}

func TestHTTPClientAPIKey(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client, err := HTTPClient(context.Background(), Config{Mode: ModeAPIKey, APIKey: "k1"}, nil)
	if err != nil {
		t.Fatalf("HTTPClient() err=%v", err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	resp.Body.Close()
	if got != "ApiKey k1" {
		t.Fatalf("Authorization=%q, want ApiKey k1", got)
	}
}

func newTokenServer(t *testing.T, issuer *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 *issuer,
			"authorization_endpoint": *issuer + "/authorize",
			"token_endpoint":         *issuer + "/token",
			"jwks_uri":               *issuer + "/keys",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + r.Form.Get("audience"),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	return httptest.NewServer(mux)
}

func TestHTTPClientOAuth2Discovery(t *testing.T) {
	var issuer string
	idp := newTokenServer(t, &issuer)
	defer idp.Close()
	issuer = idp.URL

	var got string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer api.Close()

	client, err := HTTPClient(context.Background(), Config{
		Mode:         ModeOAuth2,
		IssuerURL:    issuer,
		ClientID:     "client",
		ClientSecret: "secret",
		Audience:     "registry",
	}, nil)
	if err != nil {
		t.Fatalf("HTTPClient() err=%v", err)
	}
	resp, err := client.Get(api.URL)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	resp.Body.Close()
	if got != "Bearer tok-registry" {
		t.Fatalf("Authorization=%q, want Bearer tok-registry", got)
	}
}

func TestHTTPClientOAuth2BadIssuer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := HTTPClient(context.Background(), Config{
		Mode:         ModeOAuth2,
		IssuerURL:    srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	}, nil)
	if err == nil {
		t.Fatalf("HTTPClient() expected discovery error")
	}
}
