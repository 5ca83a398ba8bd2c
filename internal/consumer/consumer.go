// Package consumer streams a bytelog.Log to a client connection, from
// byte 0, following the log as it grows -- grounded on
// _examples/original_source/src/server/client_handler.c
// (sendFromCache/sendAllChunks/waitForFirstChunk/waitForMoreData).
package consumer

import (
	"io"

	"github.com/pkg/errors"

	"github.com/miroslav0221/httpcacheproxy/internal/bytelog"
)

// ErrEmptyLog is returned when the producer failed before writing
// anything, so there is nothing to send.
var ErrEmptyLog = errors.New("consumer: log has no data")

// Stream copies log's bytes to w in order, blocking for new data as
// needed, until the log reaches a terminal status and every appended byte
// has been sent. It returns nil only if the log finished with Success. A
// log that failed before any byte was appended yields ErrEmptyLog; any
// other Failed log (whether discovered up front or mid-stream) is reported
// as an error wrapping bytelog.ErrFailed. A write failure to w aborts the
// stream immediately without touching the log -- other consumers of the
// same log are unaffected.
func Stream(w io.Writer, log *bytelog.Log) error {
	log.WaitForFirstChunk()

	chunk := log.Head()
	if chunk == nil {
		return ErrEmptyLog
	}

	sentWithinChunk := 0
	for chunk != nil {
		if log.Status() == bytelog.EStatus.Failed() {
			return errors.Wrap(bytelog.ErrFailed, "consumer: aborted mid-chunk")
		}

		filled, next := log.ChunkState(chunk)

		if sentWithinChunk < filled {
			if _, err := w.Write(chunk.Bytes()[sentWithinChunk:filled]); err != nil {
				return errors.Wrap(err, "consumer: client write failed")
			}
			sentWithinChunk = filled
		}

		if next != nil {
			chunk = next
			sentWithinChunk = 0
			continue
		}

		if log.Status() != bytelog.EStatus.InProcess() {
			break
		}

		log.WaitForProgressPastOffset(chunk, sentWithinChunk)
	}

	if log.Status() == bytelog.EStatus.Failed() {
		return errors.Wrap(bytelog.ErrFailed, "consumer: log ended in failure")
	}
	return nil
}
