package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/zeroai-dev/zeroai/internal/cmd"
	"github.com/zeroai-dev/zeroai/internal/config"
	"github.com/zeroai-dev/zeroai/internal/logging"
	"github.com/zeroai-dev/zeroai/internal/settings"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: zeroai <command> [flags]

commands:
  serve   run the gateway server
  login   run an OAuth login flow and store the account

serve flags:
  -host string   listen address (overrides settings)
  -port int      listen port (overrides settings)

login flags:
  -provider string   provider to log in to (anthropic, gemini-cli, antigravity, cloud-code-assist, qwen)

common flags:
  -config string   credential store path (default ~/.zeroai/config.json)
`)
}

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "login":
		runLogin(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func loadEnvironment(configPath string) (*settings.Settings, *config.Store) {
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			log.Fatalf("failed to resolve config path: %v", err)
		}
	}
	store := config.NewStore(configPath)

	cfg, err := settings.Load(filepath.Join(filepath.Dir(configPath), "config.yaml"))
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if err := logging.ConfigureOutput(cfg.LoggingToFile, filepath.Join(filepath.Dir(configPath), "logs")); err != nil {
		log.Warnf("failed to configure log output: %v", err)
	}

	return cfg, store
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", "", "listen address")
	port := fs.Int("port", 0, "listen port")
	configPath := fs.String("config", "", "credential store path")
	_ = fs.Parse(args)

	cfg, store := loadEnvironment(*configPath)
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	cmd.StartService(cfg, store)
}

func runLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	providerID := fs.String("provider", "", "provider to log in to")
	configPath := fs.String("config", "", "credential store path")
	_ = fs.Parse(args)

	if *providerID == "" {
		fmt.Fprintln(os.Stderr, "login requires -provider")
		os.Exit(2)
	}

	cfg, store := loadEnvironment(*configPath)
	cmd.DoLogin(cfg, store, *providerID)
}
