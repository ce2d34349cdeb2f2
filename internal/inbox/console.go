package inbox

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Console reads interactive input lines into a bounded channel that the
// orchestrator drains at the start of each cycle. The channel buffer plus
// the per-cycle drain limit keep a flood of input from starving the loop.
func Console(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			default:
				// Buffer full: drop rather than block the reader.
			}
		}
	}()
	return lines
}
