package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codefionn/webtaskbench/internal/config"
	"github.com/codefionn/webtaskbench/internal/envapi"
	"github.com/codefionn/webtaskbench/internal/logger"
	"github.com/codefionn/webtaskbench/internal/recovery"
	"github.com/codefionn/webtaskbench/internal/runner"
	"github.com/codefionn/webtaskbench/internal/store"
	"github.com/codefionn/webtaskbench/internal/task"
)

var (
	configPath    = flag.String("config", "webtaskbench.json", "Path to configuration file")
	dbPath        = flag.String("db", "", "Path to SQLite database (overrides config)")
	tasksDir      = flag.String("tasks", "", "Directory containing task definitions (overrides config)")
	seedDir       = flag.String("seeds", "", "Directory of seed JSON files to load before running")
	logLevel      = flag.String("log-level", "", "Log level: debug, info, warn, error, none")
	stopOnFailure = flag.Bool("stop-on-failure", false, "Stop a chain at the first non-completed task")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] <command> [args]

Commands:
  run <task>...        Run one task, or a chain of tasks in order
  eval <expression>    Evaluate an assertion expression against current state
  list                 List available tasks
  reset                Reset the environment database and memory

Flags:
`, filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *tasksDir != "" {
		cfg.TasksDir = *tasksDir
	}
	if *seedDir != "" {
		cfg.SeedDir = *seedDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *stopOnFailure {
		cfg.StopOnFailure = true
	}

	lg, err := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogPath, "webtaskbench")
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer lg.Close()

	st, err := store.Open(cfg.DBPath, lg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if cfg.SeedDir != "" {
		if _, statErr := os.Stat(cfg.SeedDir); statErr == nil {
			if err := st.LoadSeedDir(cfg.SeedDir); err != nil {
				log.Fatalf("Failed to load seeds: %v", err)
			}
		}
	}

	r := runner.New(st, runner.NewScriptedExecutor(st), nil, cfg.TasksDir, cfg.ErrorsDir, lg).
		WithTaskTimeout(time.Duration(cfg.TaskTimeout) * time.Second).
		WithPollInterval(time.Duration(cfg.PollInterval) * time.Millisecond).
		WithRecoveryDefaults(recovery.Defaults{
			MaxRetries:        cfg.Recovery.MaxRetries,
			RetryDelayMS:      cfg.Recovery.RetryDelayMS,
			BackoffMultiplier: cfg.Recovery.BackoffMultiplier,
			ElementWaitSecs:   cfg.Recovery.ElementWaitSecs,
			AssertionWaitSecs: cfg.Recovery.AssertionWaitSecs,
		})
	if cfg.EnvAPIAddr != "" {
		remote := envapi.NewClient(cfg.EnvAPIAddr)
		r.WithSources(remote, remote)
	}

	switch flag.Arg(0) {
	case "run":
		runCommand(r, cfg, flag.Args()[1:])
	case "eval":
		evalCommand(r, flag.Args()[1:])
	case "list":
		listCommand(cfg)
	case "reset":
		resetCommand(st, cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}
}

func runCommand(r *runner.Runner, cfg *config.Config, names []string) {
	if len(names) == 0 {
		log.Fatalf("run requires at least one task name")
	}

	if len(names) == 1 {
		result, err := r.RunTaskByName(names[0])
		if err != nil {
			log.Fatalf("Failed to run %s: %v", names[0], err)
		}
		printJSON(result)
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	chain := r.RunChain(names, cfg.StopOnFailure)
	printJSON(chain)
	fmt.Printf("\n%d completed, %d failed, %d blocked in %.1fs\n",
		chain.Completed, chain.Failed, chain.Blocked, chain.TimeElapsed)
	if chain.Failed > 0 || chain.Blocked > 0 {
		os.Exit(1)
	}
}

func evalCommand(r *runner.Runner, args []string) {
	if len(args) == 0 {
		log.Fatalf("eval requires an expression")
	}
	expr := strings.Join(args, " ")

	ok, err := r.Evaluator().Evaluate(expr)
	if err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	fmt.Println(ok)
	if !ok {
		os.Exit(1)
	}
}

func listCommand(cfg *config.Config) {
	names, err := task.List(cfg.TasksDir)
	if err != nil {
		log.Fatalf("Failed to list tasks: %v", err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func resetCommand(st *store.Store, cfg *config.Config) {
	st.ResetDocument()
	if cfg.SeedDir != "" {
		if _, err := os.Stat(cfg.SeedDir); err == nil {
			if err := st.LoadSeedDir(cfg.SeedDir); err != nil {
				log.Fatalf("Failed to reload seeds: %v", err)
			}
		}
	}
	fmt.Println("environment reset")
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
	fmt.Println(string(data))
}
