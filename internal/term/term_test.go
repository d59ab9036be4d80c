// Package term_test exercises Console against a real terminal.
//
// The test is skipped when stdin is not a terminal (ErrNoTTY), which is the
// case whenever it runs under "go test" (it redirects standard streams).
// Run it in a real terminal with a built test binary to exercise it for
// real: `go test -c && ./term.test`.
package term_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/macboot/runtime/internal/term"
)

func TestConsoleReadsKeystrokes(t *testing.T) {
	console, err := term.NewConsole(os.Stdin, os.Stdout)
	if errors.Is(err, term.ErrNoTTY) {
		t.Skipf("not a terminal: %s", err)
	}
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	defer console.Restore()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	keys := make(chan byte, 1)

	go func() {
		_ = console.Run(ctx, func(b byte) {
			select {
			case keys <- b:
			default:
			}
		})
	}()

	select {
	case <-keys:
	case <-ctx.Done():
	}
}
