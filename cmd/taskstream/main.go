package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskstream/internal/delivery/cli"
	"taskstream/internal/delivery/server/bootstrap"
	"taskstream/internal/infra/auth"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskstream",
		Short:         "Streaming task server with cooperative cancellation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bootstrap.LoadDotEnv()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./taskstream.yaml or ~/.taskstream/config.yaml)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newChatCommand())
	root.AddCommand(newTokenCommand(&configPath))
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := bootstrap.NewViper()
			if port != "" {
				v.Set("server.port", port)
			}
			cfg, err := bootstrap.LoadConfig(v, *configPath)
			if err != nil {
				return err
			}
			return bootstrap.RunServer(cfg, cfg.Path)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		serverURL string
		token     string
		userID    string
		threadID  string
		render    bool
		fullTUI   bool
	)
	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Chat with a running server",
		Long: `Chat with a running server.

Without arguments an interactive prompt starts (--tui for a full-screen
view). Press Ctrl-C while an answer streams to stop it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("TASKSTREAM_TOKEN")
			}
			client := cli.NewClient(serverURL, token, userID)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer stop()

			if len(args) > 0 {
				printer := cli.NewPrinter(os.Stdout, render && cli.IsTerminal(), cli.TerminalWidth())
				req := cli.ChatRequest{Query: strings.Join(args, " "), ThreadID: threadID}
				result, err := cli.StreamWithInterrupt(ctx, client, req, printer)
				if err != nil {
					return err
				}
				if result.Failure != "" {
					return fmt.Errorf("%s", result.Failure)
				}
				return nil
			}
			if fullTUI {
				return cli.RunTUI(ctx, client, threadID)
			}
			return cli.RunInteractive(ctx, client, cli.Options{ThreadID: threadID, Render: render})
		},
	}
	cmd.Flags().StringVarP(&serverURL, "url", "u", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default $TASKSTREAM_TOKEN)")
	cmd.Flags().StringVar(&userID, "user", "", "X-User-ID sent when the server runs without auth")
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "conversation thread id")
	cmd.Flags().BoolVarP(&render, "render", "r", false, "render the finished answer as markdown")
	cmd.Flags().BoolVar(&fullTUI, "tui", false, "full-screen chat instead of the line prompt")
	return cmd
}

func newTokenCommand(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.LoadConfig(nil, *configPath)
			if err != nil {
				return err
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			signed, expiresAt, err := auth.IssueToken(cfg.Auth.JWTSecret, subject, cfg.Auth.Issuer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			fmt.Fprintln(cmd.ErrOrStderr(), color.HiBlackString("expires %s", expiresAt.Format(time.RFC3339)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "token subject, used as the task key")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskstream %s\n", bootstrap.Version)
		},
	}
}
