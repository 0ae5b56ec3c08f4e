// Command chatclient connects to a chat server (CHAT_SERVER_ADDR, default
// 127.0.0.1:7070), prints every message it receives and sends each line typed
// on stdin. Typing "quit" ends the session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/groupchat/chatclient"
	"github.com/cyberinferno/groupchat/config"
	"github.com/cyberinferno/groupchat/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := chatclient.DefaultConfig("127.0.0.1:7070")
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load client config: %w", err)
	}

	logCfg := logger.DefaultConfig("chatclient")
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

	session := chatclient.New(cfg, log)
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return err
	}

	return session.Run(ctx, os.Stdin)
}
