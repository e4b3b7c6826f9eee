package watcher

import "context"

// Op is the operation a request performs on its target.
type Op uint8

const (
	OpGet Op = iota
	OpSet
	OpChildren
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "SET"
	case OpChildren:
		return "CHILDREN"
	default:
		return "GET"
	}
}

// RelayRequest is the part of a request that lies beyond a Forwarding node.
// A legacy SET carries its payload in Text and peers parse it against their own leaf type.
type RelayRequest struct {
	Op     Op
	Path   string
	Value  Value
	Text   string
	Legacy bool
}

// RelayResult is the merged answer of a relayed request. Children is filled for OpChildren.
// Records is filled for legacy requests, one per peer leaf, with paths relative to the
// forwarding node. OK reports whether at least one peer applied a SET.
type RelayResult struct {
	Value    Value
	Mode     Mode
	Children []Child
	Records  []Record
	OK       bool
	Err      error
}

// Record is one leaf of a legacy text reply.
type Record struct {
	Path  string
	Value string
	Doc   string
}

// Child describes one entry of an enumerated container.
type Child struct {
	Label string
	Value Value
	Mode  Mode
	Doc   string
}

// Relayer dispatches a request to remote peers. The returned channel yields exactly one
// result.
type Relayer interface {
	Relay(ctx context.Context, req RelayRequest) <-chan RelayResult
}

// Forwarding mounts remote peers into the tree. Everything past the node is relayed.
type Forwarding struct {
	doc     string
	relayer Relayer
}

// NewForwarding creates a forwarding mount point.
func NewForwarding(r Relayer) *Forwarding {
	return &Forwarding{relayer: r}
}

func (f *Forwarding) node()       {}
func (f *Forwarding) Mode() Mode  { return ModeDirectory }
func (f *Forwarding) Doc() string { return f.doc }

// WithDoc sets the description reported by __doc__.
func (f *Forwarding) WithDoc(doc string) *Forwarding {
	f.doc = doc
	return f
}

// Relay hands the remainder of a request to the relayer.
func (f *Forwarding) Relay(ctx context.Context, req RelayRequest) <-chan RelayResult {
	if f.relayer == nil {
		ch := make(chan RelayResult, 1)
		ch <- RelayResult{Value: Unknown(), Mode: ModeReadOnly, Err: ErrTargetResolutionFailure}
		return ch
	}
	return f.relayer.Relay(ctx, req)
}
