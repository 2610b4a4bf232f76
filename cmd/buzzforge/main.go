// Command buzzforge runs agent runtimes, the scheduler process and the
// operator commands that talk to it.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Strob0t/BuzzForge/internal/config"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printHelp()
		return errors.New("missing command")
	}
	switch args[0] {
	case "agent":
		return runAgent(args[1:])
	case "start":
		return runStart(args[1:])
	case "check":
		return runCheck(args[1:])
	case "status":
		return runStatus(args[1:])
	case "version":
		fmt.Println(version)
		return nil
	case "help", "-h", "--help":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: buzzforge <command> [options]

Commands:
  agent    Serve one agent runtime over the task protocol
  start    Run the scheduler with the ops API
  check    Fire a trigger on a running scheduler (default: buzz_check)
  status   Show scheduler, quota and recent pipeline runs
  version  Print the version

Configuration is read from buzzforge.yaml (or $BUZZFORGE_CONFIG), .env and
BUZZFORGE_* environment variables. Every command accepts -config.

Examples:
  buzzforge agent -config agents/writer.yaml
  buzzforge start
  buzzforge check -trigger daily_pipeline
  buzzforge check -theme "standing desks"
  buzzforge status -runs 5
`)
}

// loadConfig reads configuration from path, or from the default location.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}
