package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"koperasi/backend/internal/config"
	"koperasi/backend/internal/httpapi"
)

func main() {
	username := flag.String("username", "", "Required: subject of the token")
	role := flag.String("role", "cashier", "admin or cashier")
	ttl := flag.Duration("ttl", 0, "Token lifetime; defaults to ACCESS_TOKEN_TTL_MINUTES")
	flag.Parse()

	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(os.Stderr, "--username is required")
		os.Exit(1)
	}

	cfg := config.Load()
	if cfg.AuthSecret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_SECRET must be set to match the server")
		os.Exit(1)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, lifetime, "")
	token, expiresAt, err := auth.IssueToken(*username, strings.ToLower(strings.TrimSpace(*role)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
