package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/controller"
	"github.com/hpungsan/stint/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// closeTimeout bounds how long queued writes may take to land on exit.
const closeTimeout = 10 * time.Second

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"start": true, "pause": true, "resume": true, "stop": true, "discard": true,
	"status": true, "list": true, "export": true,
	"note": true, "task": true,
	"login": true, "logout": true, "migrate": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	return cliCommands[os.Args[1]] || isHelpOrVersion()
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
       _   _       _
   ___| |_(_)_ __ | |_
  / __| __| | '_ \| __|
  \__ \ |_| | | | | |_
  |___/\__|_|_| |_|\__|

  Focus sessions, notes and tasks

  Usage: stint <command> [options]
         stint --help

  MCP server mode requires piped input.`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// --help/--version need no database
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	cliMode := isCLIMode()
	if !cliMode && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'stint --help' for usage.\n")
		os.Exit(1)
	}

	baseDir, err := app.DefaultBaseDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}
	if dir := os.Getenv("STINT_HOME"); dir != "" {
		baseDir = dir
	}

	logger := log.New(os.Stderr, "stint: ", log.LstdFlags)
	a, err := app.Open(context.Background(), app.Options{
		BaseDir: baseDir,
		// The MCP server is long-lived; it owns the tick and poll loop.
		Live:   !cliMode,
		Logger: logger,
	})
	if err != nil {
		fail("failed to open stint: %v", err)
	}

	unsubscribe := a.Controller.Subscribe(func(ev controller.Event) {
		switch {
		case ev.Type == controller.EventWarning && ev.Err != nil:
			logger.Printf("warning: %v", ev.Err)
		case ev.Type == controller.EventCompleted && ev.Auto:
			logger.Printf("session %s finished automatically", ev.Session.ID)
		}
	})

	var runErr error
	if cliMode {
		runErr = newCLIApp(a).Run(os.Args)
	} else {
		runErr = mcp.Run(a, Version)
	}

	// Close drains the write queue; its failure warnings still reach the
	// subscriber, so unsubscribe afterwards.
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	closeErr := a.Close(ctx)
	cancel()
	unsubscribe()

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
	if closeErr != nil {
		fail("some changes were not saved: %v", closeErr)
	}
}
