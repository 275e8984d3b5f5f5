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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/knowloop/expertchat/pkg/chat"
	"github.com/knowloop/expertchat/pkg/config"
	"github.com/knowloop/expertchat/pkg/session"
)

var (
	expertID     string
	transport    string
	textOnly     bool
	settingsPath string
	model        string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "expert-chat",
	Short: "Interactive console session against an expert persona",
	Long: `expert-chat opens a live conversational session with an expert persona
and relays stdin lines as user turns. Type /clear to reset the
conversation, /quit to leave.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&expertID, "expert", "", "expert persona ID (required)")
	rootCmd.Flags().StringVar(&transport, "transport", "event_stream", "transport kind: socket or event_stream")
	rootCmd.Flags().BoolVar(&textOnly, "text-only", true, "request text-only mode on the socket transport")
	rootCmd.Flags().StringVar(&settingsPath, "settings", "", "optional YAML settings file")
	rootCmd.Flags().StringVar(&model, "model", "", "model override for event-stream turns")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "zerolog level (trace|debug|info|warn|error)")
	_ = rootCmd.MarkFlagRequired("expert")
}

func run(cmd *cobra.Command, _ []string) error {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl)

	settings := config.DefaultSettings()
	if settingsPath != "" {
		settings, err = config.Load(settingsPath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := session.New(session.Config{Settings: settings}, session.Callbacks{
		OnStatusChange: func(s session.State) { fmt.Printf("-- %s --\n", s) },
		OnError:        func(msg string) { fmt.Fprintf(os.Stderr, "!! %s\n", msg) },
	})
	if err := ctrl.Start(ctx, session.StartOptions{
		ExpertID:  expertID,
		Transport: session.TransportKind(transport),
		TextOnly:  textOnly,
		Model:     model,
	}); err != nil {
		return err
	}
	defer func() { _ = ctrl.End(context.Background()) }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return readInput(ctx, ctrl) })
	g.Go(func() error { return renderUpdates(ctx, ctrl) })
	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func readInput(ctx context.Context, ctrl *session.Controller) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit":
			return context.Canceled
		case "/clear":
			ctrl.Clear(ctx)
		default:
			// send failures already reach the user via OnError
			_ = ctrl.Send(ctx, line)
		}
	}
	return scanner.Err()
}

// renderUpdates polls the store and prints turns as they arrive, echoing
// streamed agent text incrementally.
func renderUpdates(ctx context.Context, ctrl *session.Controller) error {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	var curID, lastText string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		msgs := ctrl.Store().Messages()
		if len(msgs) == 0 {
			curID, lastText = "", ""
			continue
		}
		m := msgs[len(msgs)-1]
		if m.Role != chat.RoleAgent {
			continue
		}
		switch {
		case m.ID != curID || !strings.HasPrefix(m.Text, lastText):
			fmt.Printf("\nagent: %s", m.Text)
		case len(m.Text) > len(lastText):
			fmt.Print(m.Text[len(lastText):])
		default:
			continue
		}
		curID, lastText = m.ID, m.Text
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
