// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// cli logs a user in from the command line: it starts a loopback listener for
// the callback, opens the user's browser at the provider and prints the
// authenticated principal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/oidc-rp/oidc"
	"github.com/hashicorp/oidc-rp/oidc/callback"
)

type cliConfig struct {
	Issuer       string        `env:"OIDC_ISSUER,required"`
	ClientID     string        `env:"OIDC_CLIENT_ID,required"`
	ClientSecret string        `env:"OIDC_CLIENT_SECRET,required"`
	Port         string        `env:"OIDC_PORT" envDefault:"8250"`
	Scopes       []string      `env:"OIDC_SCOPES" envSeparator:","`
	AttemptExp   time.Duration `env:"OIDC_ATTEMPT_EXP" envDefault:"2m"`
}

const sessionID = "cli"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := env.ParseAs[cliConfig]()
	if err != nil {
		return err
	}

	// handle ctrl-c while waiting for the callback
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.AttemptExp)
	defer cancel()

	var opts []oidc.Option
	if len(cfg.Scopes) > 0 {
		opts = append(opts, oidc.WithScopes(cfg.Scopes...))
	}
	redirectURL := fmt.Sprintf("http://localhost:%s/callback", cfg.Port)
	c, err := oidc.NewConfig(cfg.Issuer, cfg.ClientID, oidc.ClientSecret(cfg.ClientSecret), redirectURL, opts...)
	if err != nil {
		return err
	}
	a, err := oidc.NewAuthenticator(c, oidc.NewMemoryStore())
	if err != nil {
		return err
	}

	successCh := make(chan *oidc.Principal, 1)
	failedCh := make(chan error, 1)
	handler, err := callback.AuthCode(a, &callback.SingleSessionReader{ID: sessionID},
		func(_ string, p *oidc.Principal, w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(successHTML))
			select {
			case successCh <- p:
			default:
			}
		},
		func(sessionID string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
			callback.DefaultErrorResponse(sessionID, r, e, w, req)
			select {
			case failedCh <- e:
			default:
			}
		},
	)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", "localhost:"+cfg.Port)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srvCh := make(chan error, 1)
	go func() { srvCh <- srv.Serve(listener) }()
	defer srv.Close()

	authURL, err := a.Login(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Complete the login via your OIDC provider. Launching browser to:\n\n    %s\n\n\n", authURL)
	if err := openURL(authURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error attempting to automatically open browser: '%s'.\nPlease visit the authorization URL manually.\n", err)
	}

	select {
	case err := <-srvCh:
		return fmt.Errorf("server closed with error: %w", err)
	case err := <-failedCh:
		return fmt.Errorf("login failed: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("timed out or interrupted waiting for the provider: %w", ctx.Err())
	case p := <-successCh:
		out, err := json.MarshalIndent(p, "", "    ")
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", out)
		return nil
	}
}

// openURL opens the specified URL in the default browser of the user.
// source: https://github.com/hashicorp/vault-plugin-auth-jwt
func openURL(url string) error {
	var cmd string
	var args []string

	switch {
	case "windows" == runtime.GOOS || isWSL():
		cmd = "cmd.exe"
		args = []string{"/c", "start"}
		url = strings.ReplaceAll(url, "&", "^&")
	case "darwin" == runtime.GOOS:
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}

// isWSL tests if the binary is being run in Windows Subsystem for Linux
func isWSL() bool {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return false
	}
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

const successHTML = `<!DOCTYPE html>
<html>
<head><title>Login successful</title></head>
<body><p>Login successful. You can close this window and return to the CLI.</p></body>
</html>
`
