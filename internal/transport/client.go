package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/adumbdinosaur/irbridge/internal/session"
)

// Client is a line-oriented session client for irbridge-cli.
type Client struct {
	addr    string
	timeout time.Duration
}

func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

// Run sends each line followed by "bye" and copies every reply line to out
// until the server closes the session.
func (c *Client) Run(lines []string, out io.Writer) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("could not connect to irbridged at %s: %w (is the service running?)", c.addr, err)
	}
	defer conn.Close()

	// Set a deadline for the entire exchange.
	conn.SetDeadline(time.Now().Add(c.timeout))

	w := bufio.NewWriter(conn)
	for _, l := range append(append([]string(nil), lines...), session.ByeCommand) {
		if strings.ContainsAny(l, "\r\n") {
			return fmt.Errorf("line %q contains a line break", l)
		}
		w.WriteString(l + "\r\n")
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to send lines: %w", err)
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		fmt.Fprintln(out, sc.Text())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to read replies: %w", err)
	}
	return nil
}
