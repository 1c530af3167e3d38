// Command agentcli-demo spawns an assistant CLI, opens a session, and
// sends each non-empty line read from stdin as a prompt, printing the
// content of every assistant.message event of that turn to stdout as it
// arrives. It exists to exercise the library end-to-end, not as a
// production entrypoint.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	agentcli "github.com/driftwire/agentcli"
	"github.com/driftwire/agentcli/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentcli-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	cliPath := flag.String("cli-path", "", "path to the assistant CLI binary")
	model := flag.String("model", "", "model to request for the session")
	provider := flag.String("provider", "", "BYOK provider (requires -model)")
	flag.Parse()

	if *cliPath == "" {
		return fmt.Errorf("-cli-path is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(logging.Options{Level: slog.LevelInfo})

	client, err := agentcli.NewClient(agentcli.ClientOptions{
		CLIPath:     *cliPath,
		AutoRestart: true,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("starting client: %w", err)
	}
	defer client.Stop(context.Background())

	unsub := client.OnLifecycle("", func(ev agentcli.LifecycleEvent) {
		logger.Info("lifecycle", "type", ev.Type)
	})
	defer unsub()

	sess, err := client.CreateSession(ctx, agentcli.SessionConfig{
		Model:             *model,
		Provider:          *provider,
		PermissionHandler: agentcli.ApproveAll,
		Streaming:         true,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer sess.Destroy(context.Background())

	sessLogger := logging.WithSession(logger, sess.ID())
	sessLogger.Info("session ready")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		prompt := scanner.Text()
		if prompt == "" {
			continue
		}
		stream, err := sess.SendAsync(ctx, agentcli.SendOptions{Prompt: prompt})
		if err != nil {
			sessLogger.Error("send failed", "error", err)
			continue
		}
		for ev := range stream {
			if ev.Type == agentcli.EventAssistantMessage {
				if content, err := ev.Content(); err == nil {
					fmt.Println(content)
				}
			}
		}
	}
	return scanner.Err()
}
