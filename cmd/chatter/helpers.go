package main

import (
	"fmt"
	"os"

	chatter "github.com/chattermesh/chatter-go"
)

// getSession builds a session from the stored configuration.
func getSession() (*chatter.Session, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "Missing credentials. Run 'chatter config set auth.token <token>' and 'chatter config set auth.user_id <id>' first.")
		os.Exit(1)
	}

	var opts []chatter.BackendOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatter.WithBaseURL(cfg.Default.BaseURL))
	}
	backend := chatter.NewRESTBackend(cfg.Auth.Token, opts...)

	var sessOpts []chatter.SessionOption
	if cfg.Default.BatchSize > 0 {
		sessOpts = append(sessOpts, chatter.WithInitialBatch(cfg.Default.BatchSize))
	}
	return chatter.NewSession(backend, cfg.Auth.UserID, sessOpts...), cfg
}

// baseURL resolves the API root for the stream connection.
func baseURL(cfg *Config) string {
	if cfg.Default.BaseURL != "" {
		return cfg.Default.BaseURL
	}
	return chatter.DefaultBaseURL
}
