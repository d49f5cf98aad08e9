package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/config"
	"github.com/memorahq/memora/internal/mcp"
	"github.com/memorahq/memora/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"list": true, "show": true, "status": true, "sync": true,
	"create": true, "upload-video": true, "upload-social": true,
	"retry": true, "send": true, "history": true,
	"search-users": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   __  __
  |  \/  |___ _ __  ___ _ _ __ _
  | |\/| / -_) '  \/ _ \ '_/ _' |
  |_|  |_\___|_|_|_\___/_| \__,_|

  Client for the Memora digital persona service

  Usage: memora <command> [options]
         memora --help

  MCP server mode requires piped input.`)
}

// newTokenSource picks the credential source: an explicit MEMORA_TOKEN wins,
// otherwise tokens come from the configured token endpoint.
func newTokenSource(cfg *config.Config) auth.TokenSource {
	if token := os.Getenv("MEMORA_TOKEN"); token != "" {
		return auth.NewStatic(token)
	}
	return auth.NewEndpointSource(cfg.TokenURL, &http.Client{Timeout: cfg.HTTPTimeout()})
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any setup
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".memora")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := store.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	tokens := newTokenSource(cfg)
	client := api.New(cfg.BackendURL, tokens, &http.Client{Timeout: cfg.HTTPTimeout()})
	cache := store.NewCache(db, client)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(client, cache, tokens, cfg)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'memora --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown tools in disabled_tools: %v\n", unknown)
		os.Exit(1)
	}
	if err := mcp.Run(client, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
