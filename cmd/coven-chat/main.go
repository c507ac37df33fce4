// ABOUTME: Entry point for the coven-chat server and its helper commands
// ABOUTME: Serves the chat API, writes config files, probes a running server and mints tokens

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/gateway"
	"github.com/2389/coven-chat/internal/store"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                     _           _
  ___ _____   _____ _ __         ___| |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \  ___  / __| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | ||___|| (__| | | | (_| | |_
 \___\___/ \_/ \___|_| |_|      \___|_| |_|\__,_|\__|
`

// defaultTokenTTL is how long tokens minted by the token command stay valid.
const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the chat config file.
// Priority: COVEN_CHAT_CONFIG env var > XDG_CONFIG_HOME/coven/chat.yaml > ~/.config/coven/chat.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "chat.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

// getTokenPath returns where the token command stores its last token.
func getTokenPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "chat-token")
}

func usage() {
	fmt.Println("Usage: coven-chat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the chat server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  health                         Check server health")
	fmt.Println("  agents                         List agents on a running server")
	fmt.Println("  token --sub NAME [--ttl 720h]  Mint an API token")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "help", "-h", "--help":
		usage()
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:   %s", cfg.Store.Backend)
	if cfg.Store.Backend == store.BackendSQLite {
		gray.Printf(" (%s, %s)", cfg.Store.Path, cfg.Store.Driver)
	} else {
		yellow.Print(" [not persisted]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Print("Auth:    ")
	if cfg.Auth.JWTSecret != "" {
		fmt.Println("bearer tokens required")
	} else {
		yellow.Println("disabled")
	}
	fmt.Println()

	logger.Info("starting coven-chat",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"store", cfg.Store.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// getJSON performs a GET against the configured server and returns the body.
// A bearer token is attached when COVEN_CHAT_TOKEN or the token file provides one.
func getJSON(ctx context.Context, cfg *config.Config, configPath, path string) (int, []byte, error) {
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if token := loadToken(configPath); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// loadToken returns the API token from the environment or the token file.
func loadToken(configPath string) string {
	if token := os.Getenv("COVEN_CHAT_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(getTokenPath(configPath))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	status, body, err := getJSON(ctx, cfg, configPath, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	fmt.Printf("healthy: %s\n", body)
	return nil
}

func runAgents(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	status, body, err := getJSON(ctx, cfg, configPath, "/api/agents")
	if err != nil {
		return fmt.Errorf("listing agents failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing agents: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var agents []gateway.AgentResponse
	if err := json.Unmarshal(body, &agents); err != nil {
		return fmt.Errorf("decoding agents: %w", err)
	}

	printAgents(os.Stdout, agents)
	return nil
}

// printAgents writes one line per agent, marking the built-in ones.
func printAgents(w io.Writer, agents []gateway.AgentResponse) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	for _, a := range agents {
		avatar := a.Avatar
		if avatar == "" {
			avatar = "·"
		}
		cyan.Fprintf(w, "  %-4s ", avatar)
		fmt.Fprintf(w, "%-20s %-16s", a.Name, a.Role)
		gray.Fprintf(w, " %s", a.ID)
		if a.IsDefault {
			gray.Fprint(w, " (default)")
		}
		fmt.Fprintln(w)
	}
}

// tokenArgs are the parsed arguments of the token command.
type tokenArgs struct {
	Subject string
	TTL     time.Duration
}

// parseTokenArgs accepts "--sub NAME", "--sub=NAME", "--ttl 720h" and "--ttl=720h".
func parseTokenArgs(args []string) (tokenArgs, error) {
	parsed := tokenArgs{TTL: defaultTokenTTL}

	value := func(i *int, name string) (string, error) {
		arg := args[*i]
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || strings.HasPrefix(arg, "--sub="):
			v, err := value(&i, "--sub")
			if err != nil {
				return tokenArgs{}, err
			}
			parsed.Subject = strings.TrimSpace(v)
		case arg == "--ttl" || strings.HasPrefix(arg, "--ttl="):
			v, err := value(&i, "--ttl")
			if err != nil {
				return tokenArgs{}, err
			}
			ttl, err := time.ParseDuration(v)
			if err != nil {
				return tokenArgs{}, fmt.Errorf("parsing --ttl %q: %w", v, err)
			}
			if ttl <= 0 {
				return tokenArgs{}, fmt.Errorf("--ttl must be positive")
			}
			parsed.TTL = ttl
		case strings.HasPrefix(arg, "-"):
			return tokenArgs{}, fmt.Errorf("unknown flag: %s", arg)
		default:
			return tokenArgs{}, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if parsed.Subject == "" {
		return tokenArgs{}, fmt.Errorf("--sub flag is required")
	}
	return parsed, nil
}

func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(parsed.Subject, parsed.TTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := getTokenPath(configPath)
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "  ✓ Token for %s saved to %s (expires %s)\n",
		parsed.Subject, tokenPath, time.Now().Add(parsed.TTL).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

// generateSecret returns a random base64 secret long enough for HS256.
func generateSecret() (string, error) {
	secretBytes := make([]byte, config.MinJWTSecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

// initAnswers holds the values collected by the init command.
type initAnswers struct {
	HTTPAddr  string
	Backend   string
	Driver    string
	DBPath    string
	JWTSecret string
	LogLevel  string
	LogFormat string
}

// renderConfig produces the YAML written by the init command.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# coven-chat configuration\n")
	cfg.WriteString("# Generated by coven-chat init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString("  read_header_timeout: \"10s\"\n")
	cfg.WriteString("  shutdown_timeout: \"5s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("store:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", a.Backend))
	if a.Backend == store.BackendSQLite {
		cfg.WriteString(fmt.Sprintf("  driver: %q\n", a.Driver))
		cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	}
	cfg.WriteString("\n")

	if a.JWTSecret != "" {
		cfg.WriteString("auth:\n")
		cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.JWTSecret))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))

	return cfg.String()
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("coven-chat configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var answers initAnswers

	fmt.Println("\n--- Server Configuration ---")
	answers.HTTPAddr = prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	fmt.Println("\n--- Store Configuration ---")
	answers.Backend = prompt(reader, "Backend (memory/sqlite)", store.BackendSQLite)
	if answers.Backend == store.BackendSQLite {
		answers.DBPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "chat.db"))
		answers.Driver = prompt(reader, "SQLite driver (sqlite/sqlite3)", store.DriverModernc)
	}

	fmt.Println("\n--- Authentication ---")
	if isYes(prompt(reader, "Require API tokens?", "no")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		answers.JWTSecret = secret
	}

	fmt.Println("\n--- Logging Configuration ---")
	answers.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	answers.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// 0600: the file may hold the JWT secret
	if err := os.WriteFile(outputFile, []byte(renderConfig(answers)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Catch typos now rather than at the next serve
	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("config written to %s is invalid: %w", outputFile, err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if answers.Backend == store.BackendSQLite {
		fmt.Printf("Database: %s\n", answers.DBPath)
	}
	fmt.Println("\nTo start the server:")
	fmt.Println("  coven-chat serve")
	if answers.JWTSecret != "" {
		fmt.Println("\nTo mint an API token:")
		fmt.Println("  coven-chat token --sub $USER")
	}

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
