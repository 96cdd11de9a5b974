// ABOUTME: Entry point for the ordertrack server
// ABOUTME: Wires config, persistence, the state store and the HTTP API together

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/ordertrack/internal/auth"
	"github.com/2389/ordertrack/internal/bus"
	"github.com/2389/ordertrack/internal/config"
	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/modules/orders"
	"github.com/2389/ordertrack/internal/modules/processes"
	"github.com/2389/ordertrack/internal/modules/users"
	"github.com/2389/ordertrack/internal/persist"
	"github.com/2389/ordertrack/internal/seed"
	"github.com/2389/ordertrack/internal/server"
	"github.com/2389/ordertrack/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
               _           _                  _
  ___  _ __ __| | ___ _ __| |_ _ __ __ _  ___| | __
 / _ \| '__/ _' |/ _ \ '__| __| '__/ _' |/ __| |/ /
| (_) | | | (_| |  __/ |  | |_| | | (_| | (__|   <
 \___/|_|  \__,_|\___|_|   \__|_|  \__,_|\___|_|\_\
`

// getConfigPath returns the path to the ordertrack config file.
// Priority: ORDERTRACK_CONFIG env var > XDG_CONFIG_HOME/ordertrack/ordertrack.yaml > ~/.config/ordertrack/ordertrack.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ORDERTRACK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "ordertrack.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ordertrack", "ordertrack.yaml")
}

// getDataPath returns the path to the ordertrack data directory.
// Priority: XDG_DATA_HOME/ordertrack > ~/.local/share/ordertrack
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "ordertrack")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ordertrack <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the ordertrack server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  bootstrap --name NAME  Create the initial admin account and token")
		fmt.Println("  health                 Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Seed.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Seed:      %s\n", cfg.Seed.Path)
	}
	fmt.Println()

	logger.Info("starting ordertrack",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	// Open persistence and recover the last known state. On a fresh
	// database fall back to the seed file, or an empty state record.
	snapshotter, err := persist.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer snapshotter.Close()

	state, err := snapshotter.Restore()
	switch {
	case errors.Is(err, persist.ErrNoSnapshot) && cfg.Seed.Path != "":
		logger.Info("no snapshot, loading seed", "path", cfg.Seed.Path)
		state, err = seed.Load(cfg.Seed.Path)
		if err != nil {
			return fmt.Errorf("loading seed: %w", err)
		}
	case errors.Is(err, persist.ErrNoSnapshot):
		logger.Info("no snapshot, starting empty")
		state = seed.Empty()
	case err != nil:
		return fmt.Errorf("restoring state: %w", err)
	}

	// Build the store and register the business modules.
	s := store.New(state, bus.New(logger), logger)
	if cfg.Store.MaxHistory > 0 {
		s.SetMaxHistory(cfg.Store.MaxHistory)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	if err := orders.Register(s, logger); err != nil {
		return fmt.Errorf("registering orders module: %w", err)
	}
	if err := users.New(verifier, cfg.Auth.TokenTTL, logger).Register(s); err != nil {
		return fmt.Errorf("registering users module: %w", err)
	}
	if err := processes.Register(s, logger); err != nil {
		return fmt.Errorf("registering processes module: %w", err)
	}

	// Snapshot every mutation from here on.
	if err := snapshotter.Attach(s); err != nil {
		return fmt.Errorf("attaching persistence: %w", err)
	}

	return server.New(s, verifier, cfg.Server.HTTPAddr, logger).Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if not exists)
// 2. Creates the database and the initial admin account
// 3. Generates a JWT token for the admin
//
// This is a one-command setup: ordertrack bootstrap --name "Your Name"
func runBootstrap(ctx context.Context) error {
	// Parse args with explicit error handling
	// Supports both "--name value" and "--name=value" formats
	var adminName string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			adminName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			adminName = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "-n="):
			adminName = strings.TrimPrefix(arg, "-n=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	adminName = strings.TrimSpace(adminName)
	if adminName == "" {
		return fmt.Errorf("--name flag is required")
	}
	if len(adminName) > 100 {
		return fmt.Errorf("name exceeds maximum length of 100 characters")
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "ordertrack.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	// Check if config exists, create if not
	var cfg *config.Config
	var jwtSecret string

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Generate random JWT secret
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# ordertrack configuration
# Generated by ordertrack bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "24h"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}
		jwtSecret = cfg.Auth.JWTSecret

		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	// Bring up a store over the database so the admin account goes through
	// the normal register dispatch and gets snapshotted.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	snapshotter, err := persist.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer snapshotter.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	state, err := snapshotter.Restore()
	if errors.Is(err, persist.ErrNoSnapshot) {
		state = seed.Empty()
	} else if err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}

	s := store.New(state, bus.New(logger), logger)
	verifier := auth.NewJWTVerifier([]byte(jwtSecret))

	if err := orders.Register(s, logger); err != nil {
		return fmt.Errorf("registering orders module: %w", err)
	}
	if err := users.New(verifier, cfg.Auth.TokenTTL, logger).Register(s); err != nil {
		return fmt.Errorf("registering users module: %w", err)
	}
	if err := processes.Register(s, logger); err != nil {
		return fmt.Errorf("registering processes module: %w", err)
	}
	if err := snapshotter.Attach(s); err != nil {
		return fmt.Errorf("attaching persistence: %w", err)
	}

	// Generate a random admin password
	passwordBytes := make([]byte, 18)
	if _, err := rand.Read(passwordBytes); err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	password := base64.URLEncoding.EncodeToString(passwordBytes)

	result, err := s.Dispatch(ctx, users.ActionRegister, users.Credentials{
		Name:     adminName,
		Password: password,
		Role:     "admin",
	})
	if err != nil {
		if errors.Is(err, users.ErrNameTaken) {
			return fmt.Errorf("bootstrap already complete: account %q exists", adminName)
		}
		return fmt.Errorf("creating admin account: %w", err)
	}
	admin := result.(model.User)

	green.Printf("  ✓ Created admin account: %s\n", adminName)

	tokenTTL := cfg.Auth.TokenTTL
	token, err := verifier.Generate(admin.ID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	// Save token to file for CLI tools to read
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin Account")
	cyan.Println("  -------------")
	fmt.Printf("  ID:       %s\n", admin.ID)
	fmt.Printf("  Name:     %s\n", adminName)
	fmt.Printf("  Password: %s\n", password)
	fmt.Printf("  Token:    %s (expires %s)\n", tokenPath, time.Now().Add(tokenTTL).UTC().Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    ordertrack serve         # start the server")
	fmt.Println("    ordertrack-admin stats   # verify it is up")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("ordertrack configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "ordertrack.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Seed
	fmt.Println("\n--- Seed Configuration ---")
	seedPath := prompt(reader, "Seed file path (leave empty for none)", "")

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	jwtSecret := prompt(reader, "JWT secret (leave empty to generate)", "")
	if jwtSecret == "" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}
	tokenTTL := prompt(reader, "Token TTL", "24h")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# ordertrack configuration\n")
	cfg.WriteString("# Generated by ordertrack init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	if seedPath != "" {
		cfg.WriteString("seed:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", seedPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString(fmt.Sprintf("  token_ttl: \"%s\"\n", tokenTTL))
	cfg.WriteString("\n")

	cfg.WriteString("store:\n")
	cfg.WriteString("  max_history: 50\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  ordertrack serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
