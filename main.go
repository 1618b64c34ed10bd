// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// polychat is an interactive multi-provider LLM chat for the terminal.
//
// All application state is constructed here and passed down by reference;
// there are no package-global singletons. Startup failures (unreadable
// config, invalid model registry) print a diagnostic and exit non-zero;
// a normal /quit or Ctrl+D exits zero.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/polychat-dev/polychat/internal/cli"
	"github.com/polychat-dev/polychat/internal/commands"
	"github.com/polychat-dev/polychat/internal/config"
	"github.com/polychat-dev/polychat/internal/gateway"
	"github.com/polychat-dev/polychat/internal/logging"
	"github.com/polychat-dev/polychat/internal/registry"
	"github.com/polychat-dev/polychat/internal/session"
	"github.com/polychat-dev/polychat/internal/storage"
	"github.com/polychat-dev/polychat/internal/telemetry"
	"github.com/polychat-dev/polychat/internal/util"
)

// Version is the release version, overridable at build time with
// -ldflags "-X main.Version=...".
var Version = "0.1.0"

// registryDebounce coalesces bursts of file events when models.json is
// edited or atomically replaced.
const registryDebounce = 200 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configDir = flag.String("config", "", "config directory (default ~/.polychat)")
		modelName = flag.String("model", "", "model to activate at startup (overrides config)")
		version   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("polychat %s\n", Version)
		return 0
	}

	// ==========================================================================
	// CONFIG + LOGGING
	// ==========================================================================

	dir := *configDir
	if dir == "" {
		var err error
		dir, err = config.EnsureConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "polychat: cannot create config directory: %v\n", err)
			return 1
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "polychat: cannot create config directory %s: %v\n", dir, err)
		return 1
	}

	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "polychat: invalid configuration: %v\n", err)
		return 1
	}

	log, logCloser, err := logging.New(cfg.Logging, cfg.LogFile(dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "polychat: cannot set up logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	// ==========================================================================
	// MODEL REGISTRY
	// ==========================================================================

	regPath := cfg.RegistryFile(dir)
	if err := seedRegistry(regPath); err != nil {
		fmt.Fprintf(os.Stderr, "polychat: cannot create default registry: %v\n", err)
		return 1
	}

	reg, err := registry.Load(regPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "polychat: invalid model registry %s: %v\n", regPath, err)
		return 1
	}

	// Hot reload is best effort. A session without it is still usable.
	if watcher, err := registry.NewWatcher(reg, log, registryDebounce); err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Close()
		} else {
			log.WithError(err).Warn("registry watcher disabled")
		}
	} else {
		log.WithError(err).Warn("registry watcher disabled")
	}

	// ==========================================================================
	// STORE, GATEWAY, LEDGER
	// ==========================================================================

	store, err := storage.New(cfg.ConversationsPath(dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "polychat: cannot create conversations directory: %v\n", err)
		return 1
	}
	if cfg.History.MaxConversations > 0 {
		store.MaxConversations = cfg.History.MaxConversations
	}

	gw := gateway.NewClient(gatewayProviders(cfg), gatewayPricing(cfg), log)

	// Usage tracking is optional. Chat works without the ledger.
	var tracker *telemetry.Tracker
	var recorder session.Recorder
	if t, err := telemetry.Open(cfg.LedgerFile(dir), log); err == nil {
		tracker = t
		recorder = t
		defer t.Close()
	} else {
		log.WithError(err).Warn("usage ledger disabled")
	}

	// ==========================================================================
	// SESSION
	// ==========================================================================

	sess := session.New(gw, recorder, session.Params{
		Temperature: cfg.Sampling.Temperature,
		MaxTokens:   cfg.Sampling.MaxTokens,
	})
	if cfg.History.MaxMessages > 0 {
		sess.Conversation().SetMaxMessages(cfg.History.MaxMessages)
	}
	if cfg.DefaultSystemPrompt != "" {
		sess.SetSystemPrompt(cfg.DefaultSystemPrompt)
	}

	if err := activateModel(sess, reg, *modelName, cfg.DefaultModel); err != nil {
		// Not fatal. The user can /switch once a model exists.
		fmt.Fprintf(os.Stderr, "polychat: %v\n", err)
	}

	// ==========================================================================
	// REPL
	// ==========================================================================

	cmds := commands.NewRegistry()
	cctx := &commands.Context{
		Session: sess,
		Models:  reg,
		Store:   store,
		Tracker: tracker,
		Log:     log,
	}

	repl := cli.New(cmds, cctx, cli.Options{
		HistoryFile: filepath.Join(dir, "input_history"),
		Markdown:    cfg.UI.Markdown,
	})
	if err := repl.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "polychat: %v\n", err)
		return 1
	}
	return 0
}

// activateModel picks the startup model: the -model flag, then the
// configured default, then the first non-retired registry entry.
func activateModel(sess *session.Session, reg *registry.Registry, flagName, cfgName string) error {
	for _, name := range []string{flagName, cfgName} {
		if name == "" {
			continue
		}
		entry, err := reg.Resolve(name)
		if err != nil {
			return fmt.Errorf("cannot activate model %q: %w", name, err)
		}
		if entry.Retired {
			return fmt.Errorf("cannot activate model %q: retired", entry.Name)
		}
		sess.SwitchModel(entry)
		return nil
	}

	entry, ok := reg.First()
	if !ok {
		return fmt.Errorf("registry has no usable models; edit it and /switch")
	}
	sess.SwitchModel(entry)
	return nil
}

// gatewayProviders maps configured providers into gateway form, resolving
// API keys from the environment.
func gatewayProviders(cfg *config.Config) map[string]gateway.ProviderConfig {
	providers := make(map[string]gateway.ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		providers[name] = gateway.ProviderConfig{
			BaseURL:           p.BaseURL,
			APIKey:            p.ResolveAPIKey(),
			RequestsPerMinute: p.RequestsPerMinute,
		}
	}
	return providers
}

func gatewayPricing(cfg *config.Config) map[string]gateway.Pricing {
	pricing := make(map[string]gateway.Pricing, len(cfg.Pricing))
	for conn, p := range cfg.Pricing {
		pricing[conn] = gateway.Pricing{
			PromptPerMTok:     p.PromptPerMTok,
			CompletionPerMTok: p.CompletionPerMTok,
		}
	}
	return pricing
}

// seedRegistry writes a starter models.json on first run so /models has
// something to show. Existing files are never touched.
func seedRegistry(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	entries := []registry.Entry{
		{
			Name:        "gpt-4o-mini",
			Connection:  "openai/gpt-4o-mini",
			Description: "Fast, inexpensive general model",
			UseCase:     "everyday chat",
		},
		{
			Name:        "gpt-4o",
			Connection:  "openai/gpt-4o",
			Description: "Flagship general model",
			UseCase:     "harder questions",
		},
		{
			Name:        "llama-local",
			Connection:  "ollama/llama3.1:8b",
			Description: "Local model via Ollama",
			UseCase:     "offline, private",
		},
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, append(data, '\n'), 0o644)
}
