// mobilityctl is the command-line client for mobilityd.
//
// On a terminal it starts an interactive prompt; otherwise it reads one
// command per line from stdin. A command given as arguments runs once.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/mobility/internal/client"
	"github.com/xtxerr/mobility/internal/logging"
)

func main() {
	addr := flag.String("addr", "", "server address (default 127.0.0.1:9170)")
	useTLS := flag.Bool("tls", false, "connect with TLS")
	skipVerify := flag.Bool("tls-skip-verify", false, "do not verify the server certificate")
	timeout := flag.Duration("timeout", 60*time.Second, "request timeout")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, false)

	cfg := client.DefaultConfig()
	if *addr != "" {
		cfg.Addr = *addr
	}
	cfg.TLS = *useTLS
	cfg.TLSSkipVerify = *skipVerify
	cfg.RequestTimeout = *timeout

	c := client.New(cfg)
	if err := c.Connect(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "mobilityctl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	sh := newShell(c, os.Stdout)

	if flag.NArg() > 0 {
		if err := sh.exec(context.Background(), strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "mobilityctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		interactive(sh, cfg.Addr)
		return
	}

	if err := batch(sh, os.Stdin); err != nil {
		os.Exit(1)
	}
}

// interactive runs the prompt until "exit" or Ctrl-D.
func interactive(sh *shell, addr string) {
	fmt.Fprintf(sh.out, "connected to %s, type \"help\" for commands\n", addr)

	p := prompt.New(
		func(line string) {
			if err := sh.exec(context.Background(), line); err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
		},
		sh.complete,
		prompt.OptionPrefix("mobility> "),
		prompt.OptionTitle("mobilityctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isExit(in)
		}),
	)
	p.Run()
}

// batch runs each non-empty line of r. It returns the last error.
func batch(sh *shell, r io.Reader) error {
	var last error
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if isExit(line) {
			break
		}
		if err := sh.exec(context.Background(), line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			last = err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return last
}

func isExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "quit":
		return true
	}
	return false
}
