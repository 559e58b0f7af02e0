package controlrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

// Client is a connection to a ControlRPC socket, used by the wlfs/
// wlsyncd status subcommands and by tests driving a running daemon.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	encoder *json.Encoder
	mu      sync.Mutex
	nextID  int64
}

// Dial connects to the ControlRPC socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrNetwork, "dialing %s: %v", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Client{conn: conn, scanner: scanner, encoder: json.NewEncoder(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends cmd with args marshaled to JSON and waits for the
// matching response, unmarshaling its result into out (if non-nil).
func (c *Client) Call(cmd string, args interface{}, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := fmt.Sprintf("%d", atomic.AddInt64(&c.nextID, 1))
	var rawArgs json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return wlerr.Wrap(wlerr.ErrSchema, "marshaling args: %v", err)
		}
		rawArgs = data
	}

	if err := c.encoder.Encode(Request{Cmd: cmd, ID: id, Args: rawArgs}); err != nil {
		return wlerr.Wrap(wlerr.ErrNetwork, "sending request: %v", err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return wlerr.Wrap(wlerr.ErrNetwork, "reading response: %v", err)
		}
		return wlerr.Wrap(wlerr.ErrNetwork, "connection closed before response")
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return wlerr.Wrap(wlerr.ErrSchema, "decoding response: %v", err)
	}
	if resp.Error != "" {
		return wlerr.Wrap(wlerr.ErrBadCommand, "%s", resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return wlerr.Wrap(wlerr.ErrSchema, "decoding result: %v", err)
		}
	}
	return nil
}
