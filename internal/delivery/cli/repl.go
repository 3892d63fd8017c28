package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"taskstream/internal/shared/async"
	"taskstream/internal/shared/logging"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// Options configures the interactive client.
type Options struct {
	ThreadID string
	// Render prints the finished answer as markdown when stdout is a terminal.
	Render      bool
	HistoryFile string
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the stdout width, or 80 when unknown.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// RunInteractive reads queries from a readline prompt and streams each answer.
// Ctrl-C while an answer streams asks the server to stop it; Ctrl-C on an
// empty prompt exits.
func RunInteractive(ctx context.Context, client *Client, opts Options) error {
	if opts.HistoryFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.HistoryFile = filepath.Join(home, ".taskstream-history")
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       opts.HistoryFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	printer := NewPrinter(os.Stdout, opts.Render && IsTerminal(), TerminalWidth())
	fmt.Println("Type a question and press Enter. Ctrl-C stops a running answer; 'exit' quits.")

	for {
		input, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(input) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		}

		printer.Header(opts.ThreadID)
		if _, err := StreamWithInterrupt(ctx, client, ChatRequest{Query: input, ThreadID: opts.ThreadID}, printer); err != nil {
			printer.Errorf("error: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// StreamWithInterrupt streams one answer to printer. The first SIGINT sends
// a stop request and keeps reading until the server ends the stream; a
// second one abandons the stream.
func StreamWithInterrupt(ctx context.Context, client *Client, req ChatRequest, printer *Printer) (Result, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	done := make(chan struct{})
	defer close(done)
	async.Go(logging.Nop(), "cli.interrupt", func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case <-interrupts:
				if stopping {
					cancel()
					return
				}
				stopping = true
				if _, err := client.Stop(streamCtx); err != nil {
					printer.Errorf("stop failed: %v", err)
				}
			}
		}
	})

	result, err := client.Stream(streamCtx, req, printer.Frame)
	if err == nil {
		printer.Finish(result)
	}
	return result, err
}
