package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"pyrite/commands"
	"pyrite/config"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	registerGlobalFlags(initCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	dashboard := serveCmd.Bool("dashboard", false, "Periodically log the peer table")
	registerGlobalFlags(serveCmd)

	submitCmd := flag.NewFlagSet("submit", flag.ExitOnError)
	registerGlobalFlags(submitCmd)

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	registerGlobalFlags(runCmd)

	removeCmd := flag.NewFlagSet("remove", flag.ExitOnError)
	registerGlobalFlags(removeCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	infoSeq := infoCmd.Uint64("seq", 0, "Show only the task log entry with this sequence number")
	registerGlobalFlags(infoCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		commands.RunInit(ctx, cfg, *configFile)
	case "serve":
		serveCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunServe(ctx, loadConfig(*configFile), *dashboard)
	case "submit":
		submitCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if submitCmd.NArg() != 1 {
			log.Fatal("Usage: submit -config <file> <module.wasm>")
		}
		commands.RunSubmit(ctx, loadConfig(*configFile), submitCmd.Arg(0))
	case "run":
		runCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if runCmd.NArg() != 1 {
			log.Fatal("Usage: run -config <file> <oid>")
		}
		commands.RunTask(ctx, loadConfig(*configFile), runCmd.Arg(0))
	case "remove":
		removeCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if removeCmd.NArg() != 1 {
			log.Fatal("Usage: remove -config <file> <oid>")
		}
		commands.RunRemove(ctx, loadConfig(*configFile), removeCmd.Arg(0))
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile), *infoSeq)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
