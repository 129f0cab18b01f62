// ABOUTME: Entry point for the meshmini gateway
// ABOUTME: serve runs the daemon; init writes a starter config; health queries a running instance

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/meshlink/meshmini/internal/config"
	"github.com/meshlink/meshmini/internal/gateway"
)

// version is set by the release build.
var version = "dev"

const banner = `
                      _               _       _
  _ __ ___   ___  ___| |__  _ __ ___ (_)_ __ (_)
 | '_ ' _ \ / _ \/ __| '_ \| '_ ' _ \| | '_ \| |
 | | | | | |  __/\__ \ | | | | | | | | | | | | |
 |_| |_| |_|\___||___/_| |_|_| |_| |_|_|_| |_|_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: MMB_CONFIG env var > ./meshmini.yaml > /etc/meshmini/meshmini.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MMB_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("meshmini.yaml"); err == nil {
		return "meshmini.yaml"
	}
	return "/etc/meshmini/meshmini.yaml"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: meshmini <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Query a running gateway's health endpoint")
		os.Exit(1)
	}

	// A .env in the working directory is convenient on small boards.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Store:   %s\n", cfg.DB)
	green.Print("    ▶ ")
	fmt.Printf("Device:  %s\n", cfg.Device)
	green.Print("    ▶ ")
	fmt.Printf("Name:    %s\n", cfg.Name)
	if cfg.Health.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Health:  http://%s/health\n", cfg.Health.Addr)
	}
	fmt.Println()

	logger.Info("starting meshmini",
		"config", configPath,
		"db", cfg.DB,
		"device", cfg.Device,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}

	content := `# meshmini configuration
# Every value is optional; MMB_* environment variables override the file.

db: "board.db"
device: "auto"          # serial path, or auto to probe
name: "MeshLink BBS"

# admins:
#   - "!deadbeef"
# peers:
#   - "!cafef00d"

rate: 2                 # per-sender cooldown seconds
max_text: 140           # outbound frame budget
tx_gap: 1.0             # seconds between sends

sync: true
sync_inv: 15
sync_period: 300
sync_chunk: 160

rx_stale_sec: 240
watch_tick: 10

tz: "Pacific/Auckland"

logging:
  level: "info"
  format: "text"

# health:
#   addr: "127.0.0.1:8025"
`

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	fmt.Println("\nTo start the gateway:")
	fmt.Println("  meshmini serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Health.Addr == "" {
		return fmt.Errorf("health.addr not configured")
	}

	url := fmt.Sprintf("http://%s/health", cfg.Health.Addr)
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	fmt.Print(string(body))
	return nil
}
