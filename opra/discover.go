package opra

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"dbnflow/dbn"
	"dbnflow/logger"
)

// State tracks discovery progress. Roots are only safe to read in StateDone.
type State int32

const (
	StateNotStarted State = iota
	StateConnected
	StateSubscribed
	StateXref
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateXref:
		return "xref"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "unknown"
}

// replayFinishedMsg is the system message that marks the end of an intra-day
// definition replay.
const replayFinishedMsg = "Finished definition replay"

// numSdefBuckets sizes the instrument-id map. Roughly 7000 optionable roots
// exist, some with thousands of contracts; anything from 25000 to 100000
// buckets keeps occupancy low.
const numSdefBuckets = 50000

// initialOptionsCap and initialBucketCap seed the amortized-doubling growth
// of per-root option lists and per-bucket definition lists.
const (
	initialOptionsCap = 64
	initialBucketCap  = 4
)

// Option links one discovered contract to its instrument id and, after
// cross-referencing, its security definition.
type Option struct {
	InstrumentID uint32
	Symbol       OSI
	Sdef         *dbn.SecurityDefinition
}

// Root is one optionable root and its discovered contracts.
type Root struct {
	Root    string
	Options []Option
}

// Discoverer drives one OPRA.PILLAR session through a definition replay,
// bucketing security definitions by instrument id and collecting option
// contracts under their sorted roots, then cross-references the two.
type Discoverer struct {
	client *dbn.Client

	state atomic.Int32
	stop  atomic.Bool
	wg    sync.WaitGroup

	// roots and buckets are only touched by the worker's dispatch loop;
	// no locking is needed until StateDone publishes them.
	roots   []Root
	buckets [][]*dbn.SecurityDefinition

	numOptions atomic.Uint64
	numSdefs   atomic.Uint64

	errMu  sync.Mutex
	errMsg string

	log *logger.Log
}

// NewDiscoverer returns an unstarted discoverer.
func NewDiscoverer() *Discoverer {
	d := &Discoverer{
		buckets: make([][]*dbn.SecurityDefinition, numSdefBuckets),
		log:     logger.GetLogger(),
	}
	d.client = dbn.NewClient(d.onError, d.onRecord)
	return d
}

// Client exposes the underlying session, mainly so tests and callers can
// set Dial and BufferCapacity before Start.
func (d *Discoverer) Client() *dbn.Client {
	return d.client
}

// State returns the current discovery state.
func (d *Discoverer) State() State {
	return State(d.state.Load())
}

// Err returns the saved error message, for StateError.
func (d *Discoverer) Err() string {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.errMsg
}

// NumOptions returns the number of option contracts discovered so far.
func (d *Discoverer) NumOptions() uint64 {
	return d.numOptions.Load()
}

// NumSdefs returns the number of security definitions received so far.
func (d *Discoverer) NumSdefs() uint64 {
	return d.numSdefs.Load()
}

// Roots returns the discovered roots in byte order. Only valid in StateDone.
func (d *Discoverer) Roots() []Root {
	return d.roots
}

func (d *Discoverer) setError(msg string) {
	d.errMu.Lock()
	d.errMsg = msg
	d.errMu.Unlock()
	d.state.Store(int32(StateError))
}

func (d *Discoverer) onError(c *dbn.Client, fatal bool, msg string) {
	if fatal {
		d.setError(msg)
	}
}

func (d *Discoverer) onRecord(c *dbn.Client, rec dbn.Record) {
	switch {
	case rec.RType == dbn.RTypeSmap:
		sm, ok := rec.SymbolMapping()
		if !ok {
			return
		}
		osi, ok := ParseOSI(sm.STypeOutSymbol)
		if !ok {
			return // not an option contract
		}
		d.addOption(sm.InstrumentID, osi)

	case rec.RType == dbn.RTypeSdef:
		sd, ok := rec.SecurityDefinition()
		if !ok {
			return
		}
		d.addSdef(sd)

	case rec.RType == dbn.RTypeSmsg:
		sm, ok := rec.SystemMessage()
		if ok && sm.Msg == replayFinishedMsg {
			d.state.CompareAndSwap(int32(StateSubscribed), int32(StateXref))
		}

	case rec.RType == dbn.RTypeEmsg:
		em, ok := rec.ErrorMessage()
		if ok {
			d.setError(em.Msg)
		}
	}
}

// addOption finds or inserts the root in sorted position and appends the
// contract to it. The definition pointer is filled in during
// cross-referencing.
func (d *Discoverer) addOption(instrumentID uint32, osi OSI) {
	i := sort.Search(len(d.roots), func(i int) bool { return d.roots[i].Root >= osi.Root })
	if i == len(d.roots) || d.roots[i].Root != osi.Root {
		d.roots = append(d.roots, Root{})
		copy(d.roots[i+1:], d.roots[i:])
		d.roots[i] = Root{
			Root:    osi.Root,
			Options: make([]Option, 0, initialOptionsCap),
		}
	}

	d.roots[i].Options = append(d.roots[i].Options, Option{
		InstrumentID: instrumentID,
		Symbol:       osi,
	})
	d.numOptions.Add(1)
}

// addSdef copies the definition into its instrument-id bucket.
func (d *Discoverer) addSdef(sd dbn.SecurityDefinition) {
	b := sd.InstrumentID % numSdefBuckets
	if d.buckets[b] == nil {
		d.buckets[b] = make([]*dbn.SecurityDefinition, 0, initialBucketCap)
	}
	copied := sd
	d.buckets[b] = append(d.buckets[b], &copied)
	d.numSdefs.Add(1)
}

// crossReference links every option to the bucketed definition with its
// instrument id, where one exists.
func (d *Discoverer) crossReference() {
	for i := range d.roots {
		root := &d.roots[i]
		for j := range root.Options {
			option := &root.Options[j]
			for _, sdef := range d.buckets[option.InstrumentID%numSdefBuckets] {
				if sdef.InstrumentID == option.InstrumentID {
					option.Sdef = sdef
					break
				}
			}
		}
	}
}

// Start connects to OPRA.PILLAR and begins discovery on a worker goroutine.
// Progress is observable through State; the result through Roots once the
// state reaches StateDone.
func (d *Discoverer) Start(ctx context.Context, apiKey string) error {
	if err := d.client.Connect(ctx, apiKey, "OPRA.PILLAR", false); err != nil {
		return err
	}
	d.state.Store(int32(StateConnected))

	d.wg.Add(1)
	go d.worker()
	return nil
}

func (d *Discoverer) worker() {
	defer d.wg.Done()

	log := d.log.WithComponent("opra_discover")

	// Replay the day's definitions for every parent symbol.
	if err := d.client.Start("definition", "parent", []string{"ALL_SYMBOLS"}, "", true); err != nil {
		return
	}
	d.state.Store(int32(StateSubscribed))

	for !d.stop.Load() && d.State() == StateSubscribed {
		if _, err := d.client.Get(); err != nil {
			return
		}
	}

	if d.State() != StateXref {
		return
	}

	log.WithFields(logger.Fields{
		"roots":   len(d.roots),
		"options": d.numOptions.Load(),
		"sdefs":   d.numSdefs.Load(),
	}).Info("definition replay finished, cross-referencing")

	d.crossReference()
	d.state.Store(int32(StateDone))

	log.Info("discovery complete")
}

// Close stops the worker, closes the session and releases discovery storage.
// Safe to call in any state.
func (d *Discoverer) Close() {
	if d.State() == StateNotStarted {
		return
	}
	d.stop.Store(true)
	d.client.Interrupt()
	d.wg.Wait()
	d.client.Close()

	d.roots = nil
	d.buckets = nil
}
