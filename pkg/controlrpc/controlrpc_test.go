package controlrpc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	srv := NewServer(nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, socketPath) }()

	require.Eventually(t, func() bool {
		c, err := Dial(socketPath)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() { srv.Close() })
	return srv, socketPath
}

func TestCallRoundTripsResult(t *testing.T) {
	srv, socketPath := startTestServer(t)
	srv.Handle("echo", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var m map[string]string
		json.Unmarshal(args, &m)
		return m, nil
	})

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	var out map[string]string
	err = client.Call("echo", map[string]string{"hello": "world"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "world", out["hello"])
}

func TestUnknownCommandReturnsUnknownCommandError(t *testing.T) {
	_, socketPath := startTestServer(t)
	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	err = client.Call("does-not-exist", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-command")
}

func TestBadCommandHandlerReturnsBadArgsError(t *testing.T) {
	srv, socketPath := startTestServer(t)
	srv.Handle("strict", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return nil, wlerr.Wrap(wlerr.ErrBadCommand, "missing field")
	})

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	err = client.Call("strict", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad-args")
}

func TestMultipleRequestsOnOneConnectionAreOrdered(t *testing.T) {
	srv, socketPath := startTestServer(t)
	calls := 0
	srv.Handle("count", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		calls++
		return calls, nil
	})

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	var first, second int
	require.NoError(t, client.Call("count", nil, &first))
	require.NoError(t, client.Call("count", nil, &second))
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}
