package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tgcast/internal/app"
	"tgcast/internal/config"
	logx "tgcast/pkg/logx"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "tgcast",
		Short: "Collect recently active Telegram chats and broadcast a message to them",
		Long: `tgcast keeps a list of the chats a Telegram bot has recently seen activity in,
and sends one configured message to each of them after an explicit confirmation.

Run without a subcommand for the interactive menu.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfgPath, func(ctx context.Context, a *app.App) error {
				if err := a.Start(ctx); err != nil {
					return err
				}
				return app.NewConsole(a, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
			})
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (.json, .yaml)")

	root.AddCommand(
		consoleCmd("collect", "Rebuild the chat snapshot from recently active chats", "1", &cfgPath, nil),
		broadcastCmd(&cfgPath),
		consoleCmd("stats", "Show the current snapshot", "3", &cfgPath, nil),
		listenCmd(&cfgPath),
	)
	return root
}

// consoleCmd runs a single console command token without the menu.
func consoleCmd(use, short, token string, cfgPath *string, input func(cmd *cobra.Command) *strings.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				in := cmd.InOrStdin()
				if input != nil {
					if r := input(cmd); r != nil {
						in = r
					}
				}
				app.NewConsole(a, in, cmd.OutOrStdout()).Exec(ctx, token)
				return nil
			})
		},
	}
}

func broadcastCmd(cfgPath *string) *cobra.Command {
	var yes bool
	cmd := consoleCmd("broadcast", "Send the configured message to every chat in the snapshot", "2", cfgPath,
		func(*cobra.Command) *strings.Reader {
			if yes {
				return strings.NewReader("y\n")
			}
			return nil
		})
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if !yes && cmd.InOrStdin() == os.Stdin && !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("stdin is not a terminal; pass --yes to confirm the broadcast")
		}
		return nil
	}
	return cmd
}

func listenCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Record chat activity and run the scheduled collect until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				defer notify(a.Logger(), daemon.SdNotifyStopping)
				return a.Listen(ctx, func() { notify(a.Logger(), daemon.SdNotifyReady) })
			})
		},
	}
}

// withApp builds the app, runs fn and always tears the app down afterwards.
// A missing config is reported and treated as a normal exit.
func withApp(cmd *cobra.Command, cfgPath string, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(cfgPath)
	if errors.Is(err, config.ErrConfigMissing) {
		fmt.Fprintf(cmd.OutOrStdout(), "No config found. A template was written to %s; set telegram.token and run again.\n", cfgPath)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(sctx)
	}()
	return fn(cmd.Context(), a)
}

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
