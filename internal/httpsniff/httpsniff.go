// Package httpsniff implements the minimal HTTP parsing spec.md §4.7
// requires: splitting an absolute-form request line, finding the header
// terminator, and recognizing a 200 response line. Nothing here attempts
// general HTTP/1.x compliance.
//
// Grounded on _examples/original_source/src/server/utils.c
// (parseUrl/findHeaderEnd/isResponse200) and
// _examples/original_source/src/server/client_handler.c's sscanf-based
// request-line split, translated into bounded Go string/byte operations.
package httpsniff

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	headerTerminator = "\r\n\r\n"

	maxMethodLen   = 15
	maxTargetLen   = 2047
	maxProtocolLen = 15
	maxHostLen     = 1023
	maxPathLen     = 2047

	defaultHTTPPort = 80
)

// FindHeaderEnd returns the index just past the first "\r\n\r\n" in buf,
// and whether it was found at all.
func FindHeaderEnd(buf []byte) (end int, found bool) {
	idx := bytes.Index(buf, []byte(headerTerminator))
	if idx < 0 {
		return 0, false
	}
	return idx + len(headerTerminator), true
}

// IsResponse200 reports whether buf begins with one of the two literal
// "HTTP/1.1 200" or "HTTP/1.0 200" prefixes.
func IsResponse200(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte("HTTP/1.1 200")) || bytes.HasPrefix(buf, []byte("HTTP/1.0 200"))
}

// ErrNoHeaderTerminator is returned by ReadUntilHeaderEnd when the peer
// closes the connection before a "\r\n\r\n" appears.
var ErrNoHeaderTerminator = errors.New("httpsniff: connection closed before header terminator")

// ReadUntilHeaderEnd reads from r into a buffer that starts at initialCap
// and doubles as needed (there is no hard cap -- see SPEC_FULL.md §9,
// "Header-buffer cap", which resolves this the way the original's
// recvToBuffer does via Buffer_reserve), until the header terminator is
// seen or the connection is closed or read fails. It returns everything
// read so far, including any bytes read past the terminator.
func ReadUntilHeaderEnd(r io.Reader, initialCap int) ([]byte, error) {
	buf := make([]byte, 0, initialCap)
	chunk := make([]byte, initialCap)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if _, found := FindHeaderEnd(buf); found {
				return buf, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return buf, ErrNoHeaderTerminator
			}
			return buf, err
		}
	}
}

// RequestLine is the whitespace-delimited first line of an HTTP request.
type RequestLine struct {
	Method   string
	Target   string
	Protocol string
}

// ParseRequestLine splits the first line of buf into method, request
// target and protocol token, enforcing spec.md §4.5's field-size caps.
func ParseRequestLine(buf []byte) (RequestLine, error) {
	line := buf
	if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
		line = buf[:idx]
	}
	line = bytes.TrimRight(line, "\r\n")

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return RequestLine{}, errors.New("httpsniff: request line must have method, target and protocol")
	}

	method, target, protocol := fields[0], fields[1], fields[2]
	if len(method) > maxMethodLen {
		return RequestLine{}, errors.New("httpsniff: method too long")
	}
	if len(target) > maxTargetLen {
		return RequestLine{}, errors.New("httpsniff: request target too long")
	}
	if len(protocol) > maxProtocolLen {
		return RequestLine{}, errors.New("httpsniff: protocol token too long")
	}

	return RequestLine{Method: method, Target: target, Protocol: protocol}, nil
}

// AbsoluteURL is a parsed "http://host[:port][/path]" request target.
type AbsoluteURL struct {
	Host string
	Port int
	Path string
}

// Addr returns "host:port", suitable for net.Dial.
func (u AbsoluteURL) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// ParseAbsoluteURL parses "http://HOST[:PORT][/PATH]" per spec.md §4.7:
// HOST capped at 1023 chars, PATH capped at 2047 chars, PORT defaults to
// 80, any scheme other than "http" is rejected.
func ParseAbsoluteURL(raw string) (AbsoluteURL, error) {
	const scheme = "http://"
	if !strings.HasPrefix(raw, scheme) {
		return AbsoluteURL{}, errors.Errorf("httpsniff: unsupported or missing scheme in %q", raw)
	}
	rest := raw[len(scheme):]

	hostport := rest
	path := "/"
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		hostport = rest[:idx]
		path = rest[idx:]
	}
	if hostport == "" {
		return AbsoluteURL{}, errors.New("httpsniff: empty host in URL")
	}
	if len(path) > maxPathLen {
		return AbsoluteURL{}, errors.New("httpsniff: path too long")
	}

	host := hostport
	port := defaultHTTPPort
	if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 {
		host = hostport[:idx]
		p, err := strconv.Atoi(hostport[idx+1:])
		if err != nil || p < 1 || p > 65535 {
			return AbsoluteURL{}, errors.Errorf("httpsniff: invalid port in %q", raw)
		}
		port = p
	}
	if host == "" || len(host) > maxHostLen {
		return AbsoluteURL{}, errors.Errorf("httpsniff: invalid host in %q", raw)
	}

	return AbsoluteURL{Host: host, Port: port, Path: path}, nil
}

// String reconstructs the canonical "http://host:port/path" form, used as
// the cache key (spec.md treats the URL string itself as the key).
func (u AbsoluteURL) String() string {
	return fmt.Sprintf("http://%s:%d%s", u.Host, u.Port, u.Path)
}
