// Package producer implements the single background worker that reads a
// cached response's body from the origin socket and appends it to a
// bytelog.Log -- grounded on
// _examples/original_source/src/server/file_uploader.c
// (fileUploadThread/startBackgroundUpload), one goroutine per ByteLog in
// place of one pthread per CacheEntryT.
package producer

import (
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/miroslav0221/httpcacheproxy/internal/bytelog"
	"github.com/miroslav0221/httpcacheproxy/internal/proxylog"
)

// Run reads from origin until EOF or error, appending every chunk it
// reads to log, then finalizes log's status. It owns origin and closes it
// on every exit path. Run is meant to be launched with `go producer.Run(...)`
// by whoever decided this URL is cacheable; it does not itself decide
// cacheability.
//
// readBufferSize sizes the scratch buffer used between reads (spec.md
// does not interpret body framing, so this is purely an IO granularity
// knob, not a protocol parameter). ioTimeout is applied as the read
// deadline on origin before each read, matching spec.md §5's
// "all socket I/O is blocking with a per-socket timeout".
//
// maxContentLength, when non-zero, is the opt-in early-terminate hook
// from SPEC_FULL.md §9 ("Producer stall on persistent origin
// connections"): once the already-appended header bytes plus body bytes
// reach it, Run finalizes Success without waiting for origin EOF. It is
// off (zero) by default and does not change spec.md's documented default
// behavior of relying solely on origin EOF.
func Run(origin net.Conn, log *bytelog.Log, readBufferSize int, ioTimeout time.Duration, maxContentLength int64, logger *proxylog.Logger) {
	defer origin.Close()

	buf := make([]byte, readBufferSize)
	status := bytelog.EStatus.Success()

	for {
		if maxContentLength > 0 && log.Downloaded() >= maxContentLength {
			logger.Debug("producer: reached max content length, stopping early",
				zap.String("url", log.URL()), zap.Int64("bytes", log.Downloaded()))
			break
		}

		if ioTimeout > 0 {
			_ = origin.SetReadDeadline(time.Now().Add(ioTimeout))
		}

		n, err := origin.Read(buf)
		if n > 0 {
			if appendErr := log.Append(buf[:n]); appendErr != nil {
				logger.Error("producer: append failed", zap.String("url", log.URL()), zap.Error(appendErr))
				status = bytelog.EStatus.Failed()
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("producer: origin read failed", zap.String("url", log.URL()), zap.Error(err))
				status = bytelog.EStatus.Failed()
			} else {
				logger.Debug("producer: origin closed cleanly", zap.String("url", log.URL()), zap.Int64("bytes", log.Downloaded()))
			}
			break
		}
	}

	log.Finalize(status)
}
