// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-rp/jwt"
	"github.com/hashicorp/oidc-rp/oidc"
	"github.com/hashicorp/oidc-rp/oidc/clientassertion"
	"github.com/joho/godotenv"
)

// webappConfig is read from the environment, after loading an optional .env
// file. Variables already set in the environment win over the .env file.
// OIDC_PROVIDER_KEYS pins the provider's signing keys as kid:file pairs of
// PEM-encoded public keys.
type webappConfig struct {
	Issuer         string            `env:"OIDC_ISSUER,required"`
	ClientID       string            `env:"OIDC_CLIENT_ID,required"`
	ClientSecret   string            `env:"OIDC_CLIENT_SECRET"`
	ClientKeyFile  string            `env:"OIDC_CLIENT_KEY_FILE"`
	ClientKeyAlg   string            `env:"OIDC_CLIENT_KEY_ALG" envDefault:"RS256"`
	ClientKeyID    string            `env:"OIDC_CLIENT_KEY_ID"`
	RedirectURL    string            `env:"OIDC_REDIRECT_URL" envDefault:"http://localhost:3000/callback"`
	Scopes         []string          `env:"OIDC_SCOPES" envSeparator:","`
	Audiences      []string          `env:"OIDC_AUDIENCES" envSeparator:","`
	SigningAlgs    []string          `env:"OIDC_SIGNING_ALGS" envSeparator:"," envDefault:"RS256"`
	ProviderCAFile string            `env:"OIDC_PROVIDER_CA_FILE"`
	ProviderKeys   map[string]string `env:"OIDC_PROVIDER_KEYS" envSeparator:"," envKeyValSeparator:":"`
	HTTPTimeout    time.Duration     `env:"OIDC_HTTP_TIMEOUT" envDefault:"30s"`
	ListenAddr     string            `env:"LISTEN_ADDR" envDefault:"localhost:3000"`
	SessionDB      string            `env:"SESSION_DB"`
	SessionMaxAge  time.Duration     `env:"SESSION_MAX_AGE" envDefault:"24h"`
	InsecureCookie bool              `env:"INSECURE_COOKIES"`
	LogLevel       string            `env:"LOG_LEVEL" envDefault:"info"`
}

// loadConfig parses the config from environ, a list of key=value pairs like
// os.Environ returns, and the optional envFile.
func loadConfig(envFile string, environ []string) (webappConfig, error) {
	const op = "loadConfig"
	vars := map[string]string{}
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return webappConfig{}, fmt.Errorf("%s: unable to read %s: %w", op, envFile, err)
		default:
			vars = fileVars
		}
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	cfg, err := env.ParseAsWithOptions[webappConfig](env.Options{Environment: vars})
	if err != nil {
		return webappConfig{}, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.ClientSecret == "" && cfg.ClientKeyFile == "" {
		return webappConfig{}, fmt.Errorf("%s: one of OIDC_CLIENT_SECRET or OIDC_CLIENT_KEY_FILE is required", op)
	}
	return cfg, nil
}

// oidcConfig converts the webappConfig into an oidc.Config.
func (c webappConfig) oidcConfig(logger hclog.Logger) (*oidc.Config, error) {
	const op = "webappConfig.oidcConfig"
	algs := make([]oidc.Alg, 0, len(c.SigningAlgs))
	for _, a := range c.SigningAlgs {
		algs = append(algs, oidc.Alg(strings.TrimSpace(a)))
	}
	opts := []oidc.Option{
		oidc.WithSupportedSigningAlgs(algs...),
		oidc.WithHTTPTimeout(c.HTTPTimeout),
		oidc.WithLogger(logger),
	}
	if len(c.Scopes) > 0 {
		opts = append(opts, oidc.WithScopes(c.Scopes...))
	}
	if len(c.Audiences) > 0 {
		opts = append(opts, oidc.WithAudiences(c.Audiences...))
	}
	if c.ProviderCAFile != "" {
		ca, err := os.ReadFile(c.ProviderCAFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read provider CA: %w", op, err)
		}
		opts = append(opts, oidc.WithProviderCA(string(ca)))
	}
	if c.ClientKeyFile != "" {
		ca, err := c.clientAssertion()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, oidc.WithClientAssertion(ca))
	}
	return oidc.NewConfig(c.Issuer, c.ClientID, oidc.ClientSecret(c.ClientSecret), c.RedirectURL, opts...)
}

// clientAssertion loads the PKCS #8 private key used for private_key_jwt
// client authentication.
func (c webappConfig) clientAssertion() (*clientassertion.JWT, error) {
	const op = "webappConfig.clientAssertion"
	raw, err := os.ReadFile(c.ClientKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read client key: %w", op, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: client key %s is not PEM encoded", op, c.ClientKeyFile)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse client key: %w", op, err)
	}
	opts := []clientassertion.Option{clientassertion.WithKey(key, clientassertion.KeyAlgorithm(c.ClientKeyAlg))}
	if c.ClientKeyID != "" {
		opts = append(opts, clientassertion.WithKeyID(c.ClientKeyID))
	}
	return clientassertion.NewJWT(c.ClientID, opts...)
}

// authenticatorOptions returns the options for the Authenticator using oc.
// Pinned ProviderKeys replace the keys published at the provider's jwks_uri.
func (c webappConfig) authenticatorOptions(oc *oidc.Config) ([]oidc.Option, error) {
	const op = "webappConfig.authenticatorOptions"
	if len(c.ProviderKeys) == 0 {
		return nil, nil
	}
	pems := make(map[string]string, len(c.ProviderKeys))
	for kid, file := range c.ProviderKeys {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read provider key %q: %w", op, kid, err)
		}
		pems[kid] = string(raw)
	}
	ks, err := jwt.NewStaticKeySet(pems)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	d, err := oidc.NewDiscovery(oc, oidc.WithPinnedKeys(ks))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return []oidc.Option{oidc.WithDiscovery(d)}, nil
}
