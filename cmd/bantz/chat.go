package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miclaldogan/bantz-sub008/internal/config"
	"github.com/miclaldogan/bantz-sub008/internal/interrupt"
	"github.com/miclaldogan/bantz-sub008/internal/tracker"
)

func buildChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive text session against the turn pipeline.

Each line is one turn: the router plans it, gated tools execute, and the
finalizer produces the spoken reply. Confirmation prompts are answered
inline ("evet" to proceed). Ctrl-C once cancels the pending reply;
twice within two seconds exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runChat(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Permissions.HotReload && cfg.Permissions.RulesPath != "" {
		a.watcher = config.NewRuleWatcher(cfg.Permissions.RulesPath, a.engine, a.logger)
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warn("rules hot reload unavailable", "error", err)
		}
	}

	ctrl := interrupt.New(a.logger)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				kind := ctrl.HandleCtrlC()
				if tc := a.bargein.ActiveTurn(); tc != nil {
					tc.Cancel()
				}
				if kind == interrupt.SignalStop {
					fmt.Println("\nHoşça kalın Efendim.")
					os.Exit(0)
				}
				fmt.Println("\n(iptal edildi, tekrar Ctrl-C çıkar)")
			}
		}
	}()

	fmt.Println("Bantz hazır. Çıkmak için /quit yazın.")
	scanner := bufio.NewScanner(os.Stdin)
	var pendingToken string

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		token := ""
		if pendingToken != "" {
			if isAffirmative(line) {
				token = pendingToken
			} else if isNegative(line) {
				pendingToken = ""
				a.loop.DenyConfirmation(a.state)
				fmt.Println("Tamam, iptal ettim.")
				continue
			}
			pendingToken = ""
		}

		start := time.Now()
		turnCtx, span := a.tracer.StartTurn(ctx, "", a.state.TurnNumber()+1)
		out, err := a.loop.RunFullCycle(turnCtx, line, a.state, token)
		span.End()
		if err != nil {
			a.logger.Error("turn failed", "error", err)
			fmt.Println("Üzgünüm Efendim, bir hata oluştu.")
			continue
		}

		fmt.Println(out.AssistantReply)
		if out.AwaitingConfirmation {
			pendingToken = out.ConfirmationToken
		}

		if a.tracker != nil {
			rec := tracker.Run{
				TurnID:    out.TurnID,
				SessionID: a.state.SessionID,
				Route:     string(out.Route),
				Intent:    out.Intent,
				Tier:      out.Tier,
				LatencyMs: time.Since(start).Milliseconds(),
				OK:        !out.TurnCancelled,
				Cancelled: out.TurnCancelled,
			}
			if err := a.tracker.Record(ctx, rec); err != nil {
				a.logger.Warn("run record failed", "error", err)
			}
		}
	}
	return scanner.Err()
}

func isAffirmative(line string) bool {
	switch strings.ToLower(line) {
	case "evet", "onayla", "tamam", "olur", "yes", "y":
		return true
	}
	return false
}

func isNegative(line string) bool {
	switch strings.ToLower(line) {
	case "hayır", "hayir", "iptal", "vazgeç", "vazgec", "no", "n":
		return true
	}
	return false
}
