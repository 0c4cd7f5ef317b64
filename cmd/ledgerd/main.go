// Hive ledger validator daemon.
//
// Usage:
//
//	ledgerd [--testnet --account=... --key=...]  Run validator
//	ledgerd --help                              Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/hive-ledger-validator/config"
	"github.com/Klingon-tech/hive-ledger-validator/internal/node"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := config.ParseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		config.PrintUsage(os.Stderr)
		return 1
	}
	if f.Help {
		config.PrintUsage(os.Stdout)
		return 0
	}
	if f.Version {
		fmt.Printf("ledgerd %s\n", config.Version)
		return 0
	}

	cfg, proto, err := config.Load(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	n, err := node.New(cfg, proto)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case <-sigCh:
	case err := <-n.Errors():
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = node.ExitProcessing
	}
	signal.Stop(sigCh)

	n.Stop()
	return code
}
