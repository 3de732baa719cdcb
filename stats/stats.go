// Package stats accumulates per-record-type counters and quote timestamp
// samples across one or more concurrently running sessions.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"dbnflow/dbn"
)

// blockSize is the fixed sample count per arena block. Blocks are never
// reallocated, so samples stay addressable while writers append.
const blockSize = 1 << 16

// Sample is one quote record's timestamp set: venue, feed handler, gateway
// and local receive times, all Unix nanoseconds.
type Sample struct {
	TsEvent uint64
	TsRecv  uint64
	TsOut   uint64
	TsLocal uint64
}

// Collector counts records by type and logs quote timestamps. Counter loads
// and stores are atomic; the sample log is an arena of fixed-size blocks
// appended under a mutex, safe for concurrent sessions.
type Collector struct {
	NumEmsg  atomic.Uint64
	NumSmsg  atomic.Uint64
	NumSmap  atomic.Uint64
	NumSdef  atomic.Uint64
	NumCmbp1 atomic.Uint64
	NumBbo   atomic.Uint64

	tsSmapFirst atomic.Uint64
	tsSmapLast  atomic.Uint64

	mu     sync.Mutex
	blocks [][]Sample
	count  uint64
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{}
}

// Nanotime returns the current time in Unix nanoseconds.
func Nanotime() uint64 {
	return uint64(time.Now().UnixNano())
}

// Observe counts one record and, for quote records, logs its timestamps
// against the local receive time. Safe to call from record handlers of
// concurrent sessions.
func (c *Collector) Observe(rec dbn.Record, tsLocal uint64) {
	switch {
	case rec.RType == dbn.RTypeEmsg:
		c.NumEmsg.Add(1)
	case rec.RType == dbn.RTypeSmsg:
		c.NumSmsg.Add(1)
	case rec.RType == dbn.RTypeSmap:
		c.NumSmap.Add(1)
		c.tsSmapFirst.CompareAndSwap(0, tsLocal)
		c.tsSmapLast.Store(tsLocal)
	case rec.RType == dbn.RTypeSdef:
		c.NumSdef.Add(1)
	case rec.RType == dbn.RTypeCmbp1:
		c.NumCmbp1.Add(1)
		if q, ok := rec.Cmbp1(); ok {
			c.Record(q.TsEvent, q.TsRecv, q.TsOut, tsLocal)
		}
	case rec.RType.IsBbo():
		c.NumBbo.Add(1)
		if q, ok := rec.Bbo(); ok {
			c.Record(q.TsEvent, q.TsRecv, q.TsOut, tsLocal)
		}
	}
}

// Record appends one timestamp sample.
func (c *Collector) Record(tsEvent, tsRecv, tsOut, tsLocal uint64) {
	c.mu.Lock()
	if len(c.blocks) == 0 || len(c.blocks[len(c.blocks)-1]) == blockSize {
		c.blocks = append(c.blocks, make([]Sample, 0, blockSize))
	}
	last := len(c.blocks) - 1
	c.blocks[last] = append(c.blocks[last], Sample{
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
		TsOut:   tsOut,
		TsLocal: tsLocal,
	})
	c.count++
	c.mu.Unlock()
}

// Count returns the number of logged samples.
func (c *Collector) Count() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Samples returns a copy of all logged samples in insertion order.
func (c *Collector) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, 0, c.count)
	for _, b := range c.blocks {
		out = append(out, b...)
	}
	return out
}

// SmapSpan returns the local receive times of the first and last symbol
// mapping records. Both are zero before any mapping arrived.
func (c *Collector) SmapSpan() (first, last uint64) {
	return c.tsSmapFirst.Load(), c.tsSmapLast.Load()
}

// Latencies holds mean latencies in nanoseconds across every logged sample.
// Event- and recv-relative figures are meaningless under intra-day replay.
type Latencies struct {
	EventToRecv  float64
	EventToOut   float64
	RecvToOut    float64
	OutToLocal   float64
	EventToLocal float64
	RecvToLocal  float64
	Samples      uint64
}

// Summarize computes mean latencies over all logged samples.
func (c *Collector) Summarize() Latencies {
	c.mu.Lock()
	defer c.mu.Unlock()

	var l Latencies
	if c.count == 0 {
		return l
	}

	for _, b := range c.blocks {
		for _, s := range b {
			l.EventToRecv += float64(s.TsRecv) - float64(s.TsEvent)
			l.EventToOut += float64(s.TsOut) - float64(s.TsEvent)
			l.RecvToOut += float64(s.TsOut) - float64(s.TsRecv)
			l.OutToLocal += float64(s.TsLocal) - float64(s.TsOut)
			l.EventToLocal += float64(s.TsLocal) - float64(s.TsEvent)
			l.RecvToLocal += float64(s.TsLocal) - float64(s.TsRecv)
		}
	}

	n := float64(c.count)
	l.EventToRecv /= n
	l.EventToOut /= n
	l.RecvToOut /= n
	l.OutToLocal /= n
	l.EventToLocal /= n
	l.RecvToLocal /= n
	l.Samples = c.count
	return l
}
