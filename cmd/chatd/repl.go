package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cmdpkg "github.com/stupiduntilnot/windowchat/internal/commander"
	"github.com/stupiduntilnot/windowchat/internal/session"
)

const quitCommand = "/quit"

func newREPLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Chat with the model from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			a, err := newApp(cfg, logger, "repl")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runREPL(ctx, os.Stdin, cmd.OutOrStdout(), a.registry)
		},
	}
}

// runREPL holds one session at a time. /reset starts a fresh one and /quit
// leaves.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, registry *session.Registry) error {
	s, err := registry.Start()
	if err != nil {
		fmt.Fprintln(out, session.UserMessage(err))
		return err
	}
	fmt.Fprintln(out, session.Greeting)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case quitCommand:
			return nil
		case cmdpkg.ResetCommand:
			_ = registry.End(s.ID())
			if s, err = registry.Start(); err != nil {
				fmt.Fprintln(out, session.UserMessage(err))
				return err
			}
			fmt.Fprintln(out, session.Greeting)
			continue
		}

		response, err := s.Send(ctx, line)
		if err != nil {
			if errors.Is(err, session.ErrAbandoned) {
				fmt.Fprintln(out)
				return nil
			}
			fmt.Fprintln(out, session.UserMessage(err))
			continue
		}
		fmt.Fprintln(out, response)
	}
}
