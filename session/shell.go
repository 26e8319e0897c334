package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/logger"
)

// ErrQuit is returned by Dispatch for the quit command
var ErrQuit = errors.New("quit")

const helpText = `commands:
  R      read a card, recover its keys and save it
  L      list stored cards
  S<n>   show the dump of slot n
  W<n>   write (clone) slot n onto a target card
  E<n>   emulate the UID of slot n
  D<n>   delete slot n
  H      this help
  Q      quit`

// Dispatch runs one single-letter command line. A missing or malformed slot
// index prints a usage line and returns nil.
func (s *Session) Dispatch(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd := strings.ToUpper(line[:1])
	arg := strings.TrimSpace(line[1:])

	switch cmd {
	case "R":
		_, err := s.Capture(ctx)
		return err
	case "L":
		s.List()
		return nil
	case "H", "?":
		fmt.Fprintln(s.out, helpText)
		return nil
	case "Q":
		return ErrQuit
	}

	var run func(slot int) error
	switch cmd {
	case "S":
		run = func(slot int) error {
			_, err := s.Show(slot)
			return err
		}
	case "W":
		run = func(slot int) error {
			_, err := s.Clone(ctx, slot)
			return err
		}
	case "E":
		run = func(slot int) error { return s.Emulate(ctx, slot) }
	case "D":
		run = s.Delete
	default:
		fmt.Fprintf(s.out, "unknown command %q\n", line)
		fmt.Fprintln(s.out, helpText)
		return nil
	}

	slot, err := strconv.Atoi(arg)
	if err != nil || slot < 0 {
		fmt.Fprintf(s.out, "usage: %s<slot>, for example %s0\n", cmd, cmd)
		return nil
	}
	return run(slot)
}

// Run reads commands from in until Q or end of input. Each command gets a
// context that an interrupt cancels, so Ctrl-C stops a long scan without
// leaving the shell. The prompt is printed only when interactive is set.
func (s *Session) Run(ctx context.Context, in io.Reader, interactive bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(s.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := s.Dispatch(cmdCtx, scanner.Text())
		stop()

		switch {
		case err == nil:
		case errors.Is(err, ErrQuit):
			return nil
		case errors.Is(err, classic.ErrInterrupted), errors.Is(err, context.Canceled):
			fmt.Fprintln(s.out, "interrupted")
		default:
			s.log.Debug("command failed", logger.String("line", scanner.Text()), logger.Err(err))
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}
