package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

var errExit = errors.New("exit")

// Run starts the interactive loop. Each line is split into arguments and run
// through a fresh command tree from newRoot, so flags never leak between lines.
// Errors are printed and the loop continues; it returns on exit, quit or EOF.
func Run(ctx context.Context, newRoot func() *cobra.Command, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "Subscription Ledger")
	fmt.Fprintln(out, "Type a command (e.g. customers list, generate --period 2024-05), help, or exit.")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	builtins := map[string]func() error{
		"exit": func() error { return errExit },
		"quit": func() error { return errExit },
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "\n> ")
		line, readErr := reader.ReadString('\n')
		input := strings.TrimSpace(line)

		if input != "" {
			if fn, ok := builtins[strings.ToLower(input)]; ok {
				if err := fn(); errors.Is(err, errExit) {
					return nil
				}
				continue
			}
			args, err := shlex.Split(input)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			} else {
				root := newRoot()
				root.SetArgs(args)
				root.SetOut(out)
				root.SetErr(out)
				if err := root.ExecuteContext(ctx); err != nil {
					fmt.Fprintf(out, "Error: %v\n", err)
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
