// Package directory implements the URL -> ByteLog mapping and the
// single-mutex protocol that guarantees at most one Producer is ever
// started per URL.
//
// Grounded on _examples/original_source/src/cache/cache.c (CacheManagerT)
// and generalized with the corpus's ExclusiveStringMap pattern
// (_examples/Azure-azure-storage-azcopy/common/exclusiveStringMap.go): one
// sync.Mutex guarding a plain map, no eviction, insertion serialized so a
// concurrent second miss always attaches to the first miss's entry.
package directory

import (
	"sync"

	"github.com/miroslav0221/httpcacheproxy/internal/bytelog"
)

// Starter is invoked, under the Directory's lock, when a URL is not yet
// present. It must do any work needed to produce a Log to insert -- e.g.
// dialing the origin and spawning a Producer -- and report whether the
// result should be cached at all. A false cache return means "do not
// insert anything"; LookupOrStart will not add an entry for this miss.
type Starter func() (log *bytelog.Log, cache bool)

// Directory is the URL -> *bytelog.Log map. It is safe for concurrent use.
type Directory struct {
	mu      sync.Mutex
	entries map[string]*bytelog.Log
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[string]*bytelog.Log)}
}

// LookupOrStart returns the existing Log for url if present (weStarted
// false). Otherwise it calls starter while holding the directory lock; if
// starter reports cache=true the returned Log is inserted atomically with
// respect to any other concurrent LookupOrStart for the same url, and
// weStarted is true. If starter reports cache=false, nothing is inserted
// and the returned log (which may be nil) is handed back as-is so the
// caller can still use it for this one request.
//
// The lock is held only across the map lookup and the starter call, which
// must itself avoid blocking on client or origin I/O beyond what's needed
// to decide cacheability -- matching spec.md's requirement that the
// directory mutex never be held across streaming.
func (d *Directory) LookupOrStart(url string, starter Starter) (log *bytelog.Log, weStarted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[url]; ok {
		return existing, false
	}

	newLog, cache := starter()
	if cache && newLog != nil {
		d.entries[url] = newLog
	}
	return newLog, true
}

// Len reports the number of cached entries. Intended for diagnostics/tests.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
