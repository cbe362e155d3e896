package pull

import (
	"sync/atomic"

	"github.com/arborfs/pull/progress"
)

// Counters tracks the outstanding-work and progress figures spec.md §3
// and §4.7 require, as atomic-safe fields rather than the original's
// inline struct members: completion callbacks arrive from worker-pool
// goroutines even though the scan/enqueue side of the loop is
// single-threaded, so every counter mutation must be safe for concurrent
// use.
type Counters struct {
	outstandingMetaFetches    int64
	outstandingContentFetches int64
	outstandingMetaWrites     int64
	outstandingContentWrites  int64
	outstandingDeltaPartWrites int64

	requestedMeta    int64
	requestedContent int64
	fetchedMeta      int64
	fetchedContent   int64
	scannedMeta      int64

	deltaPartsFetched int64
	deltaPartsTotal   int64
	totalDeltaPartSize int64
}

func (c *Counters) incOutstandingMetaFetches(n int64)    { atomic.AddInt64(&c.outstandingMetaFetches, n) }
func (c *Counters) incOutstandingContentFetches(n int64) { atomic.AddInt64(&c.outstandingContentFetches, n) }
func (c *Counters) incOutstandingMetaWrites(n int64)     { atomic.AddInt64(&c.outstandingMetaWrites, n) }
func (c *Counters) incOutstandingContentWrites(n int64)  { atomic.AddInt64(&c.outstandingContentWrites, n) }
func (c *Counters) incOutstandingDeltaPartWrites(n int64) {
	atomic.AddInt64(&c.outstandingDeltaPartWrites, n)
}

func (c *Counters) incRequestedMeta()    { atomic.AddInt64(&c.requestedMeta, 1) }
func (c *Counters) incRequestedContent() { atomic.AddInt64(&c.requestedContent, 1) }
func (c *Counters) incFetchedMeta()      { atomic.AddInt64(&c.fetchedMeta, 1) }
func (c *Counters) incFetchedContent()   { atomic.AddInt64(&c.fetchedContent, 1) }
func (c *Counters) incScannedMeta()      { atomic.AddInt64(&c.scannedMeta, 1) }

func (c *Counters) addDeltaPartSize(n int64) { atomic.AddInt64(&c.totalDeltaPartSize, n) }
func (c *Counters) setDeltaPartsTotal(n int64) {
	atomic.StoreInt64(&c.deltaPartsTotal, n)
}
func (c *Counters) incDeltaPartsFetched() { atomic.AddInt64(&c.deltaPartsFetched, 1) }

// AllOutstandingZero implements spec.md invariant 4's termination check.
func (c *Counters) AllOutstandingZero() bool {
	return atomic.LoadInt64(&c.outstandingMetaFetches) == 0 &&
		atomic.LoadInt64(&c.outstandingContentFetches) == 0 &&
		atomic.LoadInt64(&c.outstandingMetaWrites) == 0 &&
		atomic.LoadInt64(&c.outstandingContentWrites) == 0 &&
		atomic.LoadInt64(&c.outstandingDeltaPartWrites) == 0
}

func (c *Counters) snapshot() progress.Snapshot {
	return progress.Snapshot{
		OutstandingMetaFetches:     atomic.LoadInt64(&c.outstandingMetaFetches),
		OutstandingContentFetches:  atomic.LoadInt64(&c.outstandingContentFetches),
		OutstandingMetaWrites:      atomic.LoadInt64(&c.outstandingMetaWrites),
		OutstandingContentWrites:   atomic.LoadInt64(&c.outstandingContentWrites),
		OutstandingDeltaPartWrites: atomic.LoadInt64(&c.outstandingDeltaPartWrites),
		RequestedMeta:              atomic.LoadInt64(&c.requestedMeta),
		RequestedContent:           atomic.LoadInt64(&c.requestedContent),
		FetchedMeta:                atomic.LoadInt64(&c.fetchedMeta),
		FetchedContent:             atomic.LoadInt64(&c.fetchedContent),
		ScannedMeta:                atomic.LoadInt64(&c.scannedMeta),
		DeltaPartsFetched:          atomic.LoadInt64(&c.deltaPartsFetched),
		DeltaPartsTotal:            atomic.LoadInt64(&c.deltaPartsTotal),
		TotalDeltaPartSize:         atomic.LoadInt64(&c.totalDeltaPartSize),
	}
}
