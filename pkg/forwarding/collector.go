package forwarding

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/morezero/process-watchers/pkg/peers"
	"github.com/morezero/process-watchers/pkg/watcher"
)

const collectorLogPrefix = "forwarding:collector"

// Outcome is the answer of one peer: its reply, or the reason there is none. Records holds
// the leaf records of a legacy reply, with paths relative to the peer's root.
type Outcome struct {
	Peer     peers.Peer
	Value    watcher.Value
	Mode     watcher.Mode
	Children []watcher.Child
	Records  []watcher.Record
	OK       bool
	Err      error
}

// Collector merges the outcomes of one forwarded request. Its state is owned by a single
// goroutine; Deliver only queues. Exactly one RelayResult is produced, once every expected
// outcome has been delivered.
type Collector struct {
	op       watcher.Op
	outcomes chan Outcome
	result   chan watcher.RelayResult
}

// NewCollector starts a collector expecting n outcomes. With n == 0 it fails immediately.
func NewCollector(op watcher.Op, n int) *Collector {
	c := &Collector{
		op:       op,
		outcomes: make(chan Outcome, n),
		result:   make(chan watcher.RelayResult, 1),
	}
	if n == 0 {
		c.result <- watcher.RelayResult{Value: watcher.Unknown(), Mode: watcher.ModeReadOnly, Err: watcher.ErrTargetResolutionFailure}
		close(c.result)
		return c
	}
	go c.run(n)
	return c
}

// Deliver queues one outcome. It never blocks as long as no more than n outcomes are
// delivered.
func (c *Collector) Deliver(o Outcome) {
	select {
	case c.outcomes <- o:
	default:
		slog.Warn(fmt.Sprintf("%s - dropping extra outcome from peer %d", collectorLogPrefix, o.Peer.ID))
	}
}

// Result yields the merged result once.
func (c *Collector) Result() <-chan watcher.RelayResult { return c.result }

func (c *Collector) run(pending int) {
	var (
		output   strings.Builder
		results  []watcher.Value
		children []watcher.Child
		records  []watcher.Record
		seen     = map[string]bool{}
		mode     watcher.Mode
		agreed   = true
		answered bool
		ok       bool
	)

	for pending > 0 {
		o := <-c.outcomes
		pending--

		// Legacy records are addressed through the id selector of the peer that sent them.
		for _, rec := range o.Records {
			rec.Path = watcher.JoinPath(strconv.Itoa(o.Peer.ID), rec.Path)
			records = append(records, rec)
		}

		if o.Err != nil {
			slog.Warn(fmt.Sprintf("%s - peer %d failed: %v", collectorLogPrefix, o.Peer.ID, o.Err))
			fmt.Fprintf(&output, "peer %d: %v\n", o.Peer.ID, o.Err)
			results = append(results, watcher.Unknown())
			continue
		}

		if !answered {
			mode, answered = o.Mode, true
		} else if o.Mode != mode {
			agreed = false
		}
		ok = ok || o.OK

		if c.op == watcher.OpChildren {
			for _, ch := range o.Children {
				if seen[ch.Label] {
					continue
				}
				seen[ch.Label] = true
				children = append(children, ch)
			}
			continue
		}

		text, result := splitCallResult(o.Value, o.Mode)
		output.WriteString(text)
		results = append(results, result)
	}

	if !answered || !agreed {
		mode = watcher.ModeReadOnly
	}
	res := watcher.RelayResult{
		Value:   watcher.TupleValue(watcher.StringValue(output.String()), watcher.TupleValue(results...)),
		Mode:    mode,
		Records: records,
		OK:      ok,
	}
	if c.op == watcher.OpChildren {
		res.Children = children
		res.Mode = watcher.ModeDirectory
	}
	c.result <- res
	close(c.result)
}

// splitCallResult separates the captured output of a callable reply from its result.
func splitCallResult(v watcher.Value, mode watcher.Mode) (string, watcher.Value) {
	if mode == watcher.ModeCallable && v.Type == watcher.TypeTuple && len(v.Tuple) == 2 && v.Tuple[0].Type == watcher.TypeString {
		return v.Tuple[0].Str, v.Tuple[1]
	}
	return "", v
}
