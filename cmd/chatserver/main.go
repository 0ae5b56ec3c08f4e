// Command chatserver runs the broadcast chat server on the configured port
// (CHAT_ADDR, default :7070). Console commands: "quit" stops the server and
// "who" lists the peers currently online.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/groupchat/chatserver"
	"github.com/cyberinferno/groupchat/config"
	"github.com/cyberinferno/groupchat/logger"
)

// controller is the part of the server the console drives.
type controller interface {
	Stop()
	Online() []string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := chatserver.DefaultConfig()
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	logCfg := logger.DefaultConfig("chatserver")
	if err := config.Load(&logCfg); err != nil {
		return fmt.Errorf("load logger config: %w", err)
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := chatserver.New(cfg, log)
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go scanLines(ctx, os.Stdin, lines, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return srv.Run(gctx)
	})
	g.Go(func() error {
		console(gctx, srv, lines, os.Stdout)
		return nil
	})

	return g.Wait()
}

// console executes commands until ctx is done, input ends, or quit is entered.
func console(ctx context.Context, srv controller, lines <-chan string, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}

			if !command(srv, strings.TrimSpace(line), out) {
				srv.Stop()
				return
			}
		}
	}
}

// command runs one console line and reports whether the console should keep
// reading.
func command(srv controller, line string, out io.Writer) bool {
	switch line {
	case "":
	case "quit":
		return false
	case "who":
		online := srv.Online()
		fmt.Fprintf(out, "%d online\n", len(online))
		for _, addr := range online {
			fmt.Fprintln(out, addr)
		}
	default:
		fmt.Fprintf(out, "unknown command %q (commands: who, quit)\n", line)
	}

	return true
}

// maxLineSize bounds one console line.
const maxLineSize = 1 << 20

// scanLines feeds console lines to out and closes it when input ends. A read
// error or an over-long line is logged.
func scanLines(ctx context.Context, r io.Reader, out chan<- string, log logger.Logger) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Error("reading console input failed", logger.Field{Key: "error", Value: err})
	}
}
