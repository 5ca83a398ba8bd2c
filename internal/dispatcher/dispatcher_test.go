package dispatcher

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miroslav0221/httpcacheproxy/internal/config"
	"github.com/miroslav0221/httpcacheproxy/internal/directory"
	"github.com/miroslav0221/httpcacheproxy/internal/httpsniff"
	"github.com/miroslav0221/httpcacheproxy/internal/proxylog"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ChunkCapacity = 64
	cfg.ReadBufferSize = 64
	cfg.RequestHeaderCap = 256
	return cfg
}

// fakeOrigin serves one request on a net.Pipe end and returns the request
// bytes it observed.
func fakeOrigin(t *testing.T, conn net.Conn, response string) []byte {
	t.Helper()
	req, err := httpsniff.ReadUntilHeaderEnd(conn, 256)
	require.NoError(t, err)
	_, err = conn.Write([]byte(response))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	return req
}

func TestDispatchGETCacheMissThenHit(t *testing.T) {
	dir := directory.New()
	cfg := testConfig()
	logger := proxylog.Nop()

	dialCount := 0
	originResponse := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"

	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		dialCount++
		originClient, originServer := net.Pipe()
		go fakeOrigin(t, originServer, originResponse)
		return originClient, nil
	}

	req := "GET http://example.com/a HTTP/1.1\r\nHost: example.com\r\n\r\n"

	// First request: cache miss.
	clientConn, serverConn := net.Pipe()
	go func() { Dispatch(context.Background(), serverConn, dir, cfg, dial, logger) }()

	_, err := clientConn.Write([]byte(req))
	require.NoError(t, err)
	got, err := io.ReadAll(clientConn)
	require.NoError(t, err)
	assert.Equal(t, originResponse, string(got))

	// Second request: cache hit, must not dial origin again.
	clientConn2, serverConn2 := net.Pipe()
	go func() { Dispatch(context.Background(), serverConn2, dir, cfg, dial, logger) }()

	_, err = clientConn2.Write([]byte(req))
	require.NoError(t, err)
	got2, err := io.ReadAll(clientConn2)
	require.NoError(t, err)
	assert.Equal(t, originResponse, string(got2))

	assert.Equal(t, 1, dialCount)
	assert.Equal(t, 1, dir.Len())
}

func TestDispatchNon200IsNotCached(t *testing.T) {
	dir := directory.New()
	cfg := testConfig()
	logger := proxylog.Nop()

	notFound := "HTTP/1.1 404 Not Found\r\nContent-Length: 9\r\n\r\nnot found"

	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		originClient, originServer := net.Pipe()
		go fakeOrigin(t, originServer, notFound)
		return originClient, nil
	}

	req := "GET http://example.com/missing HTTP/1.1\r\nHost: example.com\r\n\r\n"
	clientConn, serverConn := net.Pipe()
	go func() { Dispatch(context.Background(), serverConn, dir, cfg, dial, logger) }()

	_, err := clientConn.Write([]byte(req))
	require.NoError(t, err)
	got, err := io.ReadAll(clientConn)
	require.NoError(t, err)

	assert.Equal(t, notFound, string(got))
	assert.Equal(t, 0, dir.Len())
}

func TestDispatchNonGETIsTransparent(t *testing.T) {
	dir := directory.New()
	cfg := testConfig()
	logger := proxylog.Nop()

	response := "HTTP/1.1 201 Created\r\nContent-Length: 2\r\n\r\nok"

	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		originClient, originServer := net.Pipe()
		go fakeOrigin(t, originServer, response)
		return originClient, nil
	}

	req := "POST http://example.com/items HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\n\r\n"
	clientConn, serverConn := net.Pipe()
	go func() { Dispatch(context.Background(), serverConn, dir, cfg, dial, logger) }()

	_, err := clientConn.Write([]byte(req))
	require.NoError(t, err)
	got, err := io.ReadAll(clientConn)
	require.NoError(t, err)

	assert.Equal(t, response, string(got))
	assert.Equal(t, 0, dir.Len())
}

func TestDispatchMalformedURLReturns400(t *testing.T) {
	dir := directory.New()
	cfg := testConfig()
	logger := proxylog.Nop()

	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		t.Fatal("dial should not be called for a malformed request")
		return nil, nil
	}

	req := "GET ftp://example.com/a HTTP/1.1\r\nHost: example.com\r\n\r\n"
	clientConn, serverConn := net.Pipe()
	go func() { Dispatch(context.Background(), serverConn, dir, cfg, dial, logger) }()

	_, err := clientConn.Write([]byte(req))
	require.NoError(t, err)
	got, err := io.ReadAll(clientConn)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(got), "HTTP/1.0 400"))
}

func TestDispatchOriginDialFailureReturns502(t *testing.T) {
	dir := directory.New()
	cfg := testConfig()
	logger := proxylog.Nop()

	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		return nil, assertErr
	}

	req := "GET http://example.com/a HTTP/1.1\r\nHost: example.com\r\n\r\n"
	clientConn, serverConn := net.Pipe()
	go func() { Dispatch(context.Background(), serverConn, dir, cfg, dial, logger) }()

	_, err := clientConn.Write([]byte(req))
	require.NoError(t, err)
	got, err := io.ReadAll(clientConn)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(got), "HTTP/1.0 502"))
	assert.Equal(t, 0, dir.Len())
}

var assertErr = &net.OpError{Op: "dial", Err: errTimeout{}}

type errTimeout struct{}

func (errTimeout) Error() string   { return "connection refused" }
func (errTimeout) Timeout() bool   { return false }
func (errTimeout) Temporary() bool { return false }

func TestDispatchConcurrentMissesDialOriginOnce(t *testing.T) {
	dir := directory.New()
	cfg := testConfig()
	logger := proxylog.Nop()

	originResponse := "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nslow"
	// Directory.LookupOrStart serializes starter() calls for the same URL,
	// so dialCount is only ever touched by one goroutine at a time.
	dialCount := 0

	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		dialCount++
		originClient, originServer := net.Pipe()
		go func() {
			time.Sleep(20 * time.Millisecond)
			fakeOrigin(t, originServer, originResponse)
		}()
		return originClient, nil
	}

	req := "GET http://example.com/slow HTTP/1.1\r\nHost: example.com\r\n\r\n"

	const n = 4
	results := make([]string, n)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			clientConn, serverConn := net.Pipe()
			go Dispatch(context.Background(), serverConn, dir, cfg, dial, logger)
			_, _ = clientConn.Write([]byte(req))
			got, _ := io.ReadAll(clientConn)
			results[i] = string(got)
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	for _, r := range results {
		assert.Equal(t, originResponse, r)
	}
	assert.Equal(t, 1, dialCount)
}
