// Package cmd routes the command line surface: serve (the default),
// version, and help.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Execute is the entry point called from main. Running with no arguments
// starts the server, matching how the binary is deployed.
func Execute() error {
	if len(os.Args) < 2 {
		return runServe(nil)
	}

	switch os.Args[1] {
	case "serve":
		return runServe(os.Args[2:])
	case "version", "--version", "-v":
		printVersion()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

// logLevel maps the configured level name to slog. Unknown names fall
// back to info; config validation rejects them before this runs.
func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printVersion() {
	fmt.Printf("parley v%s\n", Version)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("parley - conversation session engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  parley                  Start the HTTP API server")
	fmt.Println("  parley serve [:port]    Start the server on a specific address")
	fmt.Println("  parley version          Show version information")
	fmt.Println("  parley help             Show this help")
	fmt.Println()
	fmt.Println("Configuration is read from ~/.parley/config.yaml, ./config.yaml,")
	fmt.Println("and PARLEY_* environment variables.")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       Model API key; without it chat replies are simulated")
	fmt.Println("  DATABASE_URL         PostgreSQL URL; overrides the postgres_* settings")
	fmt.Println("  PARLEY_SERVER_ADDR   Listen address (default localhost:8080)")
	fmt.Println("  PARLEY_LOG_LEVEL     debug, info, warn, error (default info)")
}
