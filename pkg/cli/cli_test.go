package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker/memory"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/sqlstore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/eventstream"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/gateway"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/logging"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startGateway(t *testing.T) (string, *eventstream.Stream) {
	t.Helper()
	ctx := context.Background()

	logger, err := logging.New(logging.Options{Level: "error"})
	require.NoError(t, err)

	cfg := eventstream.DefaultConfig()
	cfg.ProjectID = "cli-test"
	stream := eventstream.New(cfg, eventstream.WithBroker(memory.New(nil)))
	require.NoError(t, stream.Open(ctx))

	store := sqlstore.New(sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: filepath.Join(t.TempDir(), "b.db")}, nil)
	require.NoError(t, store.Open(ctx))

	g, err := gateway.New(gateway.Config{}, logger, stream, store)
	require.NoError(t, err)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = stream.Close(ctx)
		_ = store.Close(ctx)
	})
	return srv.URL, stream
}

func run(t *testing.T, ctx context.Context, gatewayURL, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	cmd := NewRootCmd()
	cmd.SetArgs(append([]string{"--gateway", gatewayURL}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(out)
	cmd.SetErr(out)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestBlobCommands(t *testing.T) {
	url, _ := startGateway(t)
	ctx := context.Background()

	out, err := run(t, ctx, url, "payload", "blob", "put", "alice", "rec1", "cid1")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored cid1 (7 bytes)")

	out, err = run(t, ctx, url, "", "blob", "get", "alice", "rec1", "cid1")
	require.NoError(t, err)
	assert.Equal(t, "payload", out)

	outFile := filepath.Join(t.TempDir(), "blob.bin")
	out, err = run(t, ctx, url, "", "blob", "get", "alice", "rec1", "cid1", "--out", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 7 bytes")

	_, err = run(t, ctx, url, "", "blob", "delete", "alice", "rec1", "cid1")
	require.NoError(t, err)

	_, err = run(t, ctx, url, "", "blob", "get", "alice", "rec1", "cid1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestBlobClearNeedsConfirmation(t *testing.T) {
	url, _ := startGateway(t)
	ctx := context.Background()

	_, err := run(t, ctx, url, "x", "blob", "put", "alice", "r", "c")
	require.NoError(t, err)

	_, err = run(t, ctx, url, "", "blob", "clear")
	assert.ErrorContains(t, err, "--yes")

	_, err = run(t, ctx, url, "", "blob", "clear", "--yes")
	require.NoError(t, err)

	_, err = run(t, ctx, url, "", "blob", "get", "alice", "r", "c")
	assert.Error(t, err)
}

func TestEmitAndTail(t *testing.T) {
	url, stream := startGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tailOut := &syncBuffer{}
	tailDone := make(chan error, 1)
	go func() {
		cmd := NewRootCmd()
		cmd.SetArgs([]string{"--gateway", url, "tail", "alice", "--id", "cli"})
		cmd.SetOut(tailOut)
		tailDone <- cmd.ExecuteContext(ctx)
	}()
	require.Eventually(t, func() bool { return stream.Active() == 1 }, 5*time.Second, 20*time.Millisecond)

	out, err := run(t, context.Background(), url, "", "emit", "alice",
		"--event", `{"type":"create"}`, "--indexes", `{"schema":"note"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Event emitted for alice")

	require.Eventually(t, func() bool {
		return strings.Contains(tailOut.String(), `"tenant":"alice"`)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, tailOut.String(), `"schema":"note"`)

	cancel()
	select {
	case err := <-tailDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not stop")
	}
}

func TestEmitRejectsBadJSON(t *testing.T) {
	url, _ := startGateway(t)
	_, err := run(t, context.Background(), url, "", "emit", "alice", "--event", "{nope")
	assert.ErrorContains(t, err, "invalid --event")
}

func TestGatewayURLFromEnv(t *testing.T) {
	t.Setenv("DWN_GATEWAY_URL", "http://example.invalid:9999")
	cmd := NewRootCmd()
	flag := cmd.PersistentFlags().Lookup("gateway")
	require.NotNil(t, flag)
	assert.Equal(t, "http://example.invalid:9999", flag.DefValue)
}

func TestClientEndpointEscapesSegments(t *testing.T) {
	c := NewClient("http://gw/", time.Second)
	assert.Equal(t, "http://gw/v1/blobs/did:ex:a/rec%2F1/cid", c.endpoint("v1", "blobs", "did:ex:a", "rec/1", "cid"))
}
