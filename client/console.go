package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// RunConsole feeds lines from in to the client until EOF or ctx is cancelled.
func (c *Client) RunConsole(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := c.Input(ctx, scanner.Text()); err != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read console: %w", err)
	}
	return nil
}
