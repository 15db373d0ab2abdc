package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/api"
	"github.com/jcarver/tower/internal/approval"
	"github.com/jcarver/tower/internal/auth"
	"github.com/jcarver/tower/internal/config"
	"github.com/jcarver/tower/internal/dispatch"
	"github.com/jcarver/tower/internal/guardrail"
	"github.com/jcarver/tower/internal/ledger"
	"github.com/jcarver/tower/internal/lock"
	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/observe"
	"github.com/jcarver/tower/internal/registry"
	"github.com/jcarver/tower/internal/storage"
	"github.com/jcarver/tower/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("tower starting", "version", version, "config", *configPath)

	pidLockPath := filepath.Join(filepath.Dir(cfg.Storage.Path), "tower.pid")
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)",
			"path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Storage.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Storage.Path)

	// Observability: hub, metrics, batched audit trail.
	hub := observe.NewHub(256)
	promReg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(promReg)
	auditRepo := storage.NewAuditRepo(db)
	auditWriter := observe.NewAuditWriter(auditRepo, metrics, log.WithComponent("audit"))
	auditWriter.Start()
	defer auditWriter.Stop()
	emitter := observe.NewEmitter(hub, metrics, auditWriter)

	// Cost ledger.
	budgetLedger, err := ledger.New(ctx, ledger.NewStore(db), cfg.Budget.Limit,
		cfg.Budget.Prices, cfg.Budget.HardLimit, emitter.BudgetAlert)
	if err != nil {
		logger.Error("failed to open cost ledger", "error", err)
		return 1
	}

	// Guardrail engine. A bad rule set refuses to start.
	policyEngine, err := guardrail.NewEngine(cfg.Policy.Rules)
	if err != nil {
		logger.Error("failed to compile policy rules", "error", err)
		return 1
	}
	logger.Info("policy rules loaded", "count", policyEngine.RuleCount())

	// Agents.
	capabilities := registry.New()
	supervisor := agent.NewSupervisor(ctx, capabilities, emitter)
	for _, ac := range cfg.Agents {
		if err := supervisor.Register(ac); err != nil {
			logger.Error("failed to register agent", "agent", ac.Name, "error", err)
			return 1
		}
	}
	logger.Info("agents registered", "count", len(cfg.Agents))

	approvals := approval.NewManager()

	dispatcher, err := dispatch.New(dispatch.Options{
		Resolver:        capabilities,
		ValidateArgs:    registry.ValidateArgs,
		Policy:          policyEngine,
		Approvals:       approvals,
		Budget:          budgetLedger,
		Caller:          dispatch.NewSupervisorCaller(supervisor),
		Emitter:         emitter,
		ApprovalTimeout: cfg.Policy.ApprovalTimeout,
	})
	if err != nil {
		logger.Error("failed to build dispatcher", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
			ReloadRules: func() ([]config.RuleConfig, error) {
				reloaded, err := config.Load(*configPath)
				if err != nil {
					return nil, err
				}
				return reloaded.Policy.Rules, nil
			},
		}
		apiServer := api.New(apiConfig, dispatcher, supervisor, approvals,
			budgetLedger, policyEngine, auditRepo, capabilities, hub, promReg, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("tower running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	supervisor.Shutdown(shutdownCtx)

	logger.Info("tower stopped")
	return exitCode
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Control plane API URL")
	apiKey := fs.String("api-key", os.Getenv("TOWER_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or TOWER_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if err := config.Lock(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	fmt.Printf("Authorized %s (checksums updated)\n", *configPath)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	fmt.Println("Status: Configuration check PASSED.")
	fmt.Printf("  agents: %d\n", len(cfg.Agents))
	fmt.Printf("  policy rules: %d\n", len(cfg.Policy.Rules))
	fmt.Printf("  budget limit: $%.2f (hard_limit=%v)\n", cfg.Budget.Limit, cfg.Budget.HardLimit)
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("tower %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- HELP ---

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`tower - Agent control plane: supervise, guard, and meter tool-calling agents

Usage:
  tower <noun> <action> [flags]

Core Resources (Nouns):
  system    Control plane lifecycle and monitoring
  config    System configuration and integrity

System Commands:
  system start      Start the control plane in foreground
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate syntax, policy, and integrity
  config lock       Authorize current state (update integrity hashes)

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'tower <noun> help' for resource-specific flags.
`)
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tower system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tower config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printSystemStartHelp() {
	fmt.Println("Usage: tower system start [--config PATH]")
	fmt.Println("Start the control plane in the foreground.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: tower system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI.")
	fmt.Println("Shows agent health, budget state, and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Control plane API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or TOWER_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate agents")
}

func printConfigLockHelp() {
	fmt.Println("Usage: tower config lock [--config PATH]")
	fmt.Println("Authorize current configuration state by regenerating integrity hashes.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: tower config check [--config PATH]")
	fmt.Println("Validate configuration syntax, policy, and integrity.")
}
