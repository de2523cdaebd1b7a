// ABOUTME: Entry point for the chatrelay bot
// ABOUTME: Relays Telegram chats to OpenAI-compatible model backends

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/chatrelay/chatrelay/internal/aggregate"
	"github.com/chatrelay/chatrelay/internal/backend"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/internal/telegram"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _            _
   ___| |__   __ _| |_ _ __ ___| | __ _ _   _
  / __| '_ \ / _' | __| '__/ _ \ |/ _' | | | |
 | (__| | | | (_| | |_| | |  __/ | (_| | |_| |
  \___|_| |_|\__,_|\__|_|  \___|_|\__,_|\__, |
                                        |___/
`

// getConfigPath returns the path to the config file.
// Priority: CHATRELAY_CONFIG env var > XDG_CONFIG_HOME/chatrelay/chatrelay.yaml > ~/.config/chatrelay/chatrelay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATRELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chatrelay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatrelay", "chatrelay.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/chatrelay > ~/.local/share/chatrelay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatrelay")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chatrelay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the relay bot")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  version    Print the version")
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
	case "version":
		fmt.Println(version)
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

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Debounce:  %s\n", cfg.Groups.Debounce)
	fmt.Println()

	logger.Info("starting chatrelay",
		"config", configPath,
		"database", cfg.Database.Path,
		"poll_timeout", cfg.Telegram.PollTimeout,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	registry := backend.NewRegistry(cfg.Providers)

	client := telegram.NewClient(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.MaxFileBytes)
	messenger := telegram.NewMessenger(client)

	svc := conversation.New(st, conversation.RegistryResolver(registry), messenger, logger)

	agg := aggregate.New(cfg.Groups.Debounce, client, svc, messenger, logger)
	defer agg.Close()

	bot := telegram.NewBot(client, svc, agg, registry.Primary(), cfg.Telegram.PollTimeout, logger)
	return bot.Run(ctx)
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

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	fmt.Print("Telegram bot token: ")
	botToken, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading bot token: %w", err)
	}
	botToken = strings.TrimSpace(botToken)
	if botToken == "" {
		return fmt.Errorf("bot token is required")
	}

	fmt.Print("OpenAI API key: ")
	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "chatrelay.db")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# chatrelay configuration
# Generated by chatrelay init

telegram:
  bot_token: "%s"
  poll_timeout: "30s"

database:
  path: "%s"

providers:
  openai:
    api_key: "%s"
  # Optional providers; leave api_key unset to disable.
  # gemini:
  #   api_key: "${GEMINI_API_KEY}"
  # deepseek:
  #   api_key: "${DEEPSEEK_API_KEY}"
  # groq:
  #   api_key: "${GROQ_API_KEY}"
  # grok:
  #   api_key: "${GROK_API_KEY}"
  # glm:
  #   api_key: "${GLM_API_KEY}"

groups:
  debounce: "2s"

logging:
  level: "info"
  format: "text"
`, botToken, dbPath, apiKey)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("  Ready to go:")
	fmt.Println("    chatrelay serve")
	fmt.Println()

	return nil
}
