// Package main is the entrypoint for the echo-search MCP server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinhnxv/echo-search/internal/config"
	"github.com/vinhnxv/echo-search/internal/mcp"
	"github.com/vinhnxv/echo-search/internal/pipeline"
	"github.com/vinhnxv/echo-search/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var reindex bool
	cmd := &cobra.Command{
		Use:   "echo-search",
		Short: "Persistent learning memory for agentic coding assistants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reindex {
				return runReindex()
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Rebuild the search index once and exit")
	return cmd
}

func runServe(ctx context.Context) error {
	if err := config.ValidateStartup(); err != nil {
		return err
	}
	config.WatchTalisman()

	db, err := store.Open(config.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return mcp.New(db, config.EchoDir(), Version).Serve(ctx)
}

func runReindex() error {
	if err := config.ValidateStartup(); err != nil {
		return err
	}

	db, err := store.Open(config.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	start := time.Now()
	result, err := pipeline.New(db).Reindex(config.EchoDir())
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	elapsed := time.Since(start).Milliseconds()

	fmt.Printf("Indexed %d entries in %dms\n", result.EntryCount, elapsed)
	fmt.Printf("Roles: %s\n", joinOrNone(result.Roles))
	return nil
}

func joinOrNone(roles []string) string {
	if len(roles) == 0 {
		return "none"
	}
	out := roles[0]
	for _, r := range roles[1:] {
		out += ", " + r
	}
	return out
}
