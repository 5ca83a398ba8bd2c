// Package dispatcher implements the per-connection driver: read a
// request, classify GET vs everything else, and route to the cache path
// or the transparent-forward path -- grounded on
// _examples/original_source/src/server/client_handler.c
// (processRequest/handleGet/handleOther) and the bidirectional-copy idiom
// in
// _examples/Ankit-Kulkarni-go-experiments/transparentProxy/main.go
// (transferData), generalized from raw net.Conn pairs to the cache-aware
// flow spec.md §4.5 describes.
package dispatcher

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/miroslav0221/httpcacheproxy/internal/bytelog"
	"github.com/miroslav0221/httpcacheproxy/internal/config"
	"github.com/miroslav0221/httpcacheproxy/internal/consumer"
	"github.com/miroslav0221/httpcacheproxy/internal/directory"
	"github.com/miroslav0221/httpcacheproxy/internal/httpsniff"
	"github.com/miroslav0221/httpcacheproxy/internal/producer"
	"github.com/miroslav0221/httpcacheproxy/internal/proxyerr"
	"github.com/miroslav0221/httpcacheproxy/internal/proxylog"
)

// DialFunc opens a connection to an origin host:port. This is spec.md
// §1's "opaque Dial(host, port) -> Connection" collaborator; production
// code uses NetDial, tests inject a fake.
type DialFunc func(ctx context.Context, host string, port int) (net.Conn, error)

// NetDial is the default DialFunc, backed by net.Dialer.
func NetDial(ctx context.Context, host string, port int) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// Dispatch drives one accepted client connection end to end: it always
// closes conn before returning.
func Dispatch(ctx context.Context, conn net.Conn, dir *directory.Directory, cfg config.Config, dial DialFunc, logger *proxylog.Logger) {
	defer conn.Close()

	if cfg.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.IOTimeout))
	}

	reqBytes, err := httpsniff.ReadUntilHeaderEnd(conn, cfg.RequestHeaderCap)
	if err != nil {
		failRequest(conn, logger, "dispatcher: no request header terminator", proxyerr.Wrap(err, proxyerr.KindMalformedRequest))
		return
	}

	reqLine, err := httpsniff.ParseRequestLine(reqBytes)
	if err != nil {
		failRequest(conn, logger, "dispatcher: malformed request line", proxyerr.Wrap(err, proxyerr.KindMalformedRequest))
		return
	}

	url, err := httpsniff.ParseAbsoluteURL(reqLine.Target)
	if err != nil {
		failRequest(conn, logger, "dispatcher: malformed URL", proxyerr.Wrap(err, proxyerr.KindMalformedRequest))
		return
	}

	logger = logger.With(zap.String("method", reqLine.Method), zap.String("url", url.String()))

	if reqLine.Method == "GET" {
		dispatchGET(ctx, conn, dir, cfg, dial, url, reqBytes, logger)
		return
	}

	dispatchOther(ctx, conn, cfg, dial, url, reqBytes, logger)
}

// failRequest logs err and answers conn with the status line and message
// proxyerr.Classify derives from it, falling back to 500 for an error that
// was never run through proxyerr.Wrap.
func failRequest(conn net.Conn, logger *proxylog.Logger, logMsg string, err error) {
	kind, status, ok := proxyerr.Classify(err)
	if !ok {
		status = proxyerr.Status500
	}
	logger.Debug(logMsg, zap.Error(proxyerr.Cause(err)), zap.Int("kind", int(kind)))
	sendErrorResponse(conn, status, proxyerr.Message(kind))
}

// originRoundTrip is filled in by the Directory starter closure so the
// caller can finish the job (error response, or transparent forward of an
// already-opened origin connection) after the directory lock has been
// released. Either failedErr is set, or origin and respHeaders are set
// together, depending on the outcome.
type originRoundTrip struct {
	origin      net.Conn
	respHeaders []byte
	failedErr   error
}

func dispatchGET(ctx context.Context, conn net.Conn, dir *directory.Directory, cfg config.Config, dial DialFunc, url httpsniff.AbsoluteURL, reqBytes []byte, logger *proxylog.Logger) {
	var rt originRoundTrip

	starter := func() (*bytelog.Log, bool) {
		origin, err := dial(ctx, url.Host, url.Port)
		if err != nil {
			rt.failedErr = proxyerr.Wrap(err, proxyerr.KindOriginUnreachable)
			logger.Warn("dispatcher: failed to dial origin", zap.Error(err))
			return nil, false
		}
		if cfg.IOTimeout > 0 {
			_ = origin.SetDeadline(time.Now().Add(cfg.IOTimeout))
		}

		if _, err := origin.Write(reqBytes); err != nil {
			rt.failedErr = proxyerr.Wrap(err, proxyerr.KindOriginUnreachable)
			logger.Warn("dispatcher: failed to send request to origin", zap.Error(err))
			origin.Close()
			return nil, false
		}

		hdrs, err := httpsniff.ReadUntilHeaderEnd(origin, cfg.RequestHeaderCap)
		if err != nil && len(hdrs) == 0 {
			rt.failedErr = proxyerr.Wrap(err, proxyerr.KindOriginUnreachable)
			logger.Warn("dispatcher: failed to read response headers", zap.Error(err))
			origin.Close()
			return nil, false
		}

		if !httpsniff.IsResponse200(hdrs) {
			logger.Debug("dispatcher: origin response is not 200, will not cache")
			rt.origin = origin
			rt.respHeaders = hdrs
			return nil, false
		}

		logger.Debug("dispatcher: caching new entry", zap.Int("header_bytes", len(hdrs)))
		log := bytelog.New(url.String(), cfg.ChunkCapacity)
		if err := log.Append(hdrs); err != nil {
			rt.failedErr = proxyerr.Wrap(err, proxyerr.KindResourceExhaustion)
			logger.Error("dispatcher: failed to seed cache entry", zap.Error(err))
			origin.Close()
			return nil, false
		}

		go producer.Run(origin, log, cfg.ReadBufferSize, cfg.IOTimeout, cfg.MaxContentLength, logger)
		return log, true
	}

	log, weStarted := dir.LookupOrStart(url.String(), starter)

	if log == nil {
		if !weStarted {
			// A hit can never resolve to a nil log; nothing sensible to do.
			return
		}
		switch {
		case rt.failedErr != nil:
			kind, status, ok := proxyerr.Classify(rt.failedErr)
			if !ok {
				status = proxyerr.Status502
			}
			sendErrorResponse(conn, status, proxyerr.Message(kind))
		case rt.origin != nil:
			forwardRemaining(conn, rt.origin, rt.respHeaders, logger)
		}
		return
	}

	if err := consumer.Stream(conn, log); err != nil {
		logger.Debug("dispatcher: consumer finished with error", zap.Error(proxyerr.Cause(err)))
	}
}

func dispatchOther(ctx context.Context, conn net.Conn, cfg config.Config, dial DialFunc, url httpsniff.AbsoluteURL, reqBytes []byte, logger *proxylog.Logger) {
	origin, err := dial(ctx, url.Host, url.Port)
	if err != nil {
		failRequest(conn, logger, "dispatcher: failed to dial origin", proxyerr.Wrap(err, proxyerr.KindOriginUnreachable))
		return
	}
	if cfg.IOTimeout > 0 {
		_ = origin.SetDeadline(time.Now().Add(cfg.IOTimeout))
	}

	if _, err := origin.Write(reqBytes); err != nil {
		origin.Close()
		failRequest(conn, logger, "dispatcher: failed to send request to origin", proxyerr.Wrap(err, proxyerr.KindOriginUnreachable))
		return
	}

	hdrs, err := httpsniff.ReadUntilHeaderEnd(origin, cfg.RequestHeaderCap)
	if err != nil && len(hdrs) == 0 {
		origin.Close()
		failRequest(conn, logger, "dispatcher: failed to read response headers", proxyerr.Wrap(err, proxyerr.KindOriginUnreachable))
		return
	}

	forwardRemaining(conn, origin, hdrs, logger)
}

// forwardRemaining writes already-read response bytes to the client, then
// drains the rest of origin straight through to the client. It owns
// origin and closes it on return.
func forwardRemaining(conn net.Conn, origin net.Conn, headerBytes []byte, logger *proxylog.Logger) {
	defer origin.Close()

	if _, err := conn.Write(headerBytes); err != nil {
		logger.Debug("dispatcher: failed to forward response headers to client", zap.Error(err))
		return
	}
	if _, err := io.Copy(conn, origin); err != nil {
		logger.Debug("dispatcher: failed to forward response body to client", zap.Error(err))
	}
}

func sendErrorResponse(conn net.Conn, status proxyerr.StatusLine, message string) {
	response := "HTTP/1.0 " + string(status) + "\r\n\r\n" + message
	_, _ = conn.Write([]byte(response))
}
