// File: internal/console/prompt.go
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errSettled signals the race that one side produced an outcome.
var errSettled = errors.New("console: race settled")

// Prompter reads operator input from a console while the UI is watched in
// parallel. If the watched condition clears on its own (the operator solved
// the challenge directly in the browser), the pending read is abandoned and
// its eventual resolution, if any, is discarded.
type Prompter struct {
	logger *zap.Logger
	in     io.Reader
	out    io.Writer
}

// NewPrompter creates a console prompter. in/out default to stdin/stdout.
func NewPrompter(logger *zap.Logger, in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Prompter{
		logger: logger.Named("console"),
		in:     in,
		out:    out,
	}
}

// ReadLineRace prints the prompt and races a blocking line read against the
// poll function, evaluated on the given cadence. It returns the entered line,
// or resolved=true when the poll reported the challenge gone, or an error when
// the context was canceled before either happened.
//
// The underlying read goroutine cannot be interrupted once it is blocked on
// the input stream; it parks on a buffered channel so an abandoned line never
// leaks a send.
func (p *Prompter) ReadLineRace(ctx context.Context, prompt string, poll func(context.Context) bool, cadence time.Duration) (line string, resolved bool, err error) {
	if cadence <= 0 {
		cadence = 2 * time.Second
	}

	fmt.Fprint(p.out, prompt)

	lines := make(chan string, 1)
	readErrs := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(p.in)
		text, err := reader.ReadString('\n')
		if err != nil && text == "" {
			readErrs <- err
			return
		}
		lines <- strings.TrimSpace(text)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case err := <-readErrs:
			return fmt.Errorf("console read failed: %w", err)
		case text := <-lines:
			line = text
			return errSettled
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(cadence)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if poll != nil && poll(gctx) {
					p.logger.Info("Challenge cleared externally; abandoning console prompt.")
					resolved = true
					return errSettled
				}
			}
		}
	})

	waitErr := g.Wait()
	if errors.Is(waitErr, errSettled) {
		return line, resolved, nil
	}
	return "", false, waitErr
}
