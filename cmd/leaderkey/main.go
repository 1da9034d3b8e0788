// leaderkey - Keyboard leader-sequence launcher
//
// A global shortcut opens a tree of single-key choices; each further key
// descends into a group or runs an action.
//
//	leaderkey run       Run the launcher daemon
//	leaderkey check     Validate the configuration and action trees
//	leaderkey stats     Print the last metrics textfile
//	leaderkey version   Print the version
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"leaderkey/internal/config"
	"leaderkey/internal/provider"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := "run"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "run":
		cmdRun()
	case "check":
		cmdCheck()
	case "stats":
		cmdStats()
	case "version", "-v", "--version":
		fmt.Println("leaderkey", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`leaderkey - Keyboard leader-sequence launcher

USAGE:
    leaderkey <command> [options]

COMMANDS:
    run                 Run the launcher (default)
    check               Validate the configuration and action trees
    stats               Print the last metrics textfile
    version             Print the version
    help                Show this help message

OPTIONS:
    -config <path>      Configuration file (TOML, JSON or YAML)

SIGNALS:
    SIGHUP              Reload the configuration
    SIGUSR1             Force-reset the sequence and restart capture
    SIGINT, SIGTERM     Shut down

FILES:
    config.toml         Daemon configuration
    trees/global.json   Global action tree
    trees/<bundle>.json Per-application tree, overlay in <bundle>.overlay.json`)
}

// configFile resolves the -config flag.
func configFile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

func cmdCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	fs.Parse(os.Args[2:])

	path := configFile(*configPath)
	fmt.Printf("Config: %s\n", path)

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "  FAIL %v\n", err)
		os.Exit(1)
	}
	for _, w := range loader.Warnings() {
		fmt.Printf("  warning: %s: %s\n", w.Field, w.Message)
	}
	if _, err := cfg.EngineSettings(); err != nil {
		fmt.Fprintf(os.Stderr, "  FAIL %v\n", err)
		os.Exit(1)
	}
	fmt.Println("  ok")

	p, err := provider.New(provider.Options{Dir: cfg.Trees.Dir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error compiling tree schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Trees: %s\n", p.Dir())

	results, err := p.Check()
	if err != nil {
		fmt.Fprintf(os.Stderr, "  FAIL %v\n", err)
		os.Exit(1)
	}
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	failed := 0
	for _, id := range ids {
		if err := results[id]; err != nil {
			failed++
			fmt.Printf("  FAIL %s: %v\n", id, err)
			continue
		}
		fmt.Printf("  ok   %s\n", id)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func cmdStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(configFile(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Metrics.Textfile == "" {
		fmt.Fprintln(os.Stderr, "No metrics textfile configured. Set [metrics] textfile in the config.")
		os.Exit(1)
	}
	data, err := os.ReadFile(cfg.Metrics.Textfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading metrics: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}
