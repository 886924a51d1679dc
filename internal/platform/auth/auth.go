package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/animus-labs/mlregistry-go/internal/platform/env"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type Mode string

const (
	ModeAPIKey   Mode = "apikey"
	ModeOAuth2   Mode = "oauth2"
	ModeDisabled Mode = "disabled"
)

var ErrMissingCredentials = errors.New("missing credentials")

type Config struct {
	Mode Mode `yaml:"mode" toml:"mode"`

	APIKey string `yaml:"apiKey,omitempty" toml:"api_key,omitempty"`

	// TokenURL wins over IssuerURL. With only IssuerURL set the token
	// endpoint is discovered from the issuer's openid-configuration.
	TokenURL     string   `yaml:"tokenURL,omitempty" toml:"token_url,omitempty"`
	IssuerURL    string   `yaml:"issuerURL,omitempty" toml:"issuer_url,omitempty"`
	ClientID     string   `yaml:"clientID,omitempty" toml:"client_id,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty" toml:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" toml:"scopes,omitempty"`
	Audience     string   `yaml:"audience,omitempty" toml:"audience,omitempty"`
}

// ConfigFromEnv overlays MLREG_AUTH_* variables on def.
func ConfigFromEnv(def Config) (Config, error) {
	modeRaw := strings.ToLower(env.String("MLREG_AUTH_MODE", string(def.Mode)))
	cfg := Config{
		Mode:         Mode(modeRaw),
		APIKey:       env.String("MLREG_API_KEY", def.APIKey),
		TokenURL:     env.String("MLREG_AUTH_TOKEN_URL", def.TokenURL),
		IssuerURL:    env.String("MLREG_AUTH_ISSUER_URL", def.IssuerURL),
		ClientID:     env.String("MLREG_AUTH_CLIENT_ID", def.ClientID),
		ClientSecret: env.String("MLREG_AUTH_CLIENT_SECRET", def.ClientSecret),
		Scopes:       env.Strings("MLREG_AUTH_SCOPES", def.Scopes),
		Audience:     env.String("MLREG_AUTH_AUDIENCE", def.Audience),
	}
	if cfg.Mode == "" {
		if cfg.APIKey != "" {
			cfg.Mode = ModeAPIKey
		} else {
			cfg.Mode = ModeDisabled
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%w: MLREG_API_KEY is required when auth mode is apikey", ErrMissingCredentials)
		}
	case ModeOAuth2:
		if strings.TrimSpace(c.ClientID) == "" {
			return fmt.Errorf("%w: client id is required when auth mode is oauth2", ErrMissingCredentials)
		}
		if strings.TrimSpace(c.ClientSecret) == "" {
			return fmt.Errorf("%w: client secret is required when auth mode is oauth2", ErrMissingCredentials)
		}
		if strings.TrimSpace(c.TokenURL) == "" && strings.TrimSpace(c.IssuerURL) == "" {
			return errors.New("token url or issuer url is required when auth mode is oauth2")
		}
	case ModeDisabled, "":
	default:
		return fmt.Errorf("auth mode must be one of: apikey, oauth2, disabled (got %q)", c.Mode)
	}
	return nil
}

// HTTPClient wraps base so every request carries credentials for cfg.
// base is also used for token and discovery calls.
func HTTPClient(ctx context.Context, cfg Config, base *http.Client) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	switch cfg.Mode {
	case ModeAPIKey:
		return &http.Client{
			Transport:     &apiKeyTransport{key: strings.TrimSpace(cfg.APIKey), base: transport},
			Timeout:       base.Timeout,
			CheckRedirect: base.CheckRedirect,
			Jar:           base.Jar,
		}, nil
	case ModeOAuth2:
		tokenURL, err := resolveTokenURL(ctx, cfg, base)
		if err != nil {
			return nil, err
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       cfg.Scopes,
		}
		if cfg.Audience != "" {
			cc.EndpointParams = url.Values{"audience": {cfg.Audience}}
		}
		// The token source outlives ctx, so it must not inherit its cancellation.
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
		client := cc.Client(tokenCtx)
		client.Timeout = base.Timeout
		return client, nil
	default:
		return base, nil
	}
}

func resolveTokenURL(ctx context.Context, cfg Config, base *http.Client) (string, error) {
	if tokenURL := strings.TrimSpace(cfg.TokenURL); tokenURL != "" {
		return tokenURL, nil
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, base), strings.TrimSpace(cfg.IssuerURL))
	if err != nil {
		return "", fmt.Errorf("oidc provider: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", fmt.Errorf("issuer %s does not advertise a token endpoint", cfg.IssuerURL)
	}
	return tokenURL, nil
}

type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "ApiKey "+t.key)
	return t.base.RoundTrip(clone)
}
