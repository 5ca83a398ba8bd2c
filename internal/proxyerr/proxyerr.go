// Package proxyerr classifies a wrapped error into the proxy-side status
// line spec.md §7 names, and carries a causer-walking Cause helper --
// grounded on _examples/Azure-azure-storage-azcopy/common/logger.go's
// Cause() and the github.com/pkg/errors Wrap/Cause idiom used throughout
// that repo (e.g. common/exclusiveStringMap.go, common/cacheLimiter.go).
package proxyerr

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds spec.md §7 names.
type Kind int

const (
	KindMalformedRequest Kind = iota
	KindResourceExhaustion
	KindOriginUnreachable
	KindOriginMidStream
	KindClientWrite
	KindPoisonedCache
)

// StatusLine is a minimal proxy-generated HTTP response line, used when
// the proxy itself must answer instead of relaying an origin response.
type StatusLine string

const (
	Status400 StatusLine = "400 Bad Request"
	Status500 StatusLine = "500 Internal Server Error"
	Status502 StatusLine = "502 Bad Gateway"
)

// classified pairs a Kind with the status line a dispatcher should emit
// for it, when a status line applies at all (mid-stream and client-write
// failures don't: spec.md §7 has no status line for those, since bytes are
// already flowing).
type classified struct {
	kind   Kind
	status StatusLine
	err    error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Cause() error  { return c.err }
func (c *classified) Unwrap() error { return c.err }

// Wrap annotates err with a Kind and, where applicable, the status line
// spec.md's error table assigns to that kind.
func Wrap(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	status := StatusLine("")
	switch kind {
	case KindMalformedRequest:
		status = Status400
	case KindResourceExhaustion:
		status = Status500
	case KindOriginUnreachable:
		status = Status502
	}
	return &classified{kind: kind, status: status, err: err}
}

// Classify recovers the Kind and, if any, status line that Wrap attached
// to err or one of its wrapped causes.
func Classify(err error) (kind Kind, status StatusLine, ok bool) {
	var c *classified
	if stderrors.As(err, &c) {
		return c.kind, c.status, true
	}
	return 0, "", false
}

// Cause walks err's chain of Cause()-implementing wrappers (the
// github.com/pkg/errors convention) down to the root error.
func Cause(err error) error {
	return errors.Cause(err)
}

// Message returns the minimal response body text a dispatcher should pair
// with the status line Classify returns for kind. Kept separate from
// StatusLine so call sites that already have a Kind (logging, metrics)
// don't need to round-trip through Classify just to get a message.
func Message(kind Kind) string {
	switch kind {
	case KindMalformedRequest:
		return "Bad Request"
	case KindResourceExhaustion:
		return "Cache allocation failed"
	case KindOriginUnreachable:
		return "Failed to reach origin"
	default:
		return "Internal Error"
	}
}
