// Package forwarding relays watcher requests that cross a forwarding mount to remote peers
// and merges their replies into a single answer.
package forwarding

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/morezero/process-watchers/pkg/peers"
)

const selectorLogPrefix = "forwarding:selector"

// Selector keywords.
const (
	SelectorAll         = "all"
	SelectorLeastLoaded = "leastLoaded"
)

// SelectorKind is the form of a selector segment.
type SelectorKind uint8

const (
	SelectAll SelectorKind = iota
	SelectLeastLoaded
	SelectIDs
)

func (k SelectorKind) String() string {
	switch k {
	case SelectAll:
		return SelectorAll
	case SelectLeastLoaded:
		return SelectorLeastLoaded
	default:
		return "ids"
	}
}

// Selector is a parsed selector segment. For SelectIDs, IDs holds the parsed ids in the
// order given and Invalid the tokens that were not decimal integers.
type Selector struct {
	Kind    SelectorKind
	IDs     []int
	Invalid []string
}

// ParseSelector parses the first segment of a forwarded path.
func ParseSelector(segment string) (Selector, error) {
	switch segment {
	case "":
		return Selector{}, fmt.Errorf("%s - empty selector", selectorLogPrefix)
	case SelectorAll:
		return Selector{Kind: SelectAll}, nil
	case SelectorLeastLoaded:
		return Selector{Kind: SelectLeastLoaded}, nil
	}

	sel := Selector{Kind: SelectIDs}
	for _, tok := range strings.Split(segment, ",") {
		tok = strings.TrimSpace(tok)
		id, err := strconv.Atoi(tok)
		if err != nil {
			sel.Invalid = append(sel.Invalid, tok)
			continue
		}
		sel.IDs = append(sel.IDs, id)
	}
	return sel, nil
}

func (s Selector) String() string {
	if s.Kind != SelectIDs {
		return s.Kind.String()
	}
	parts := make([]string, 0, len(s.IDs)+len(s.Invalid))
	for _, id := range s.IDs {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(append(parts, s.Invalid...), ",")
}

// TieBreak decides between peers reporting the same lowest load.
type TieBreak uint8

const (
	TieLowestID TieBreak = iota
	TieHighestID
	TieRegistryOrder
)

// ParseTieBreak accepts "lowestId", "highestId" and "registryOrder". Empty means lowestId.
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(s) {
	case "", "lowestid":
		return TieLowestID, nil
	case "highestid":
		return TieHighestID, nil
	case "registryorder":
		return TieRegistryOrder, nil
	}
	return TieLowestID, fmt.Errorf("%s - unknown tie break %q", selectorLogPrefix, s)
}

func (t TieBreak) String() string {
	switch t {
	case TieHighestID:
		return "highestId"
	case TieRegistryOrder:
		return "registryOrder"
	default:
		return "lowestId"
	}
}

// ResolveOptions tunes selector resolution.
type ResolveOptions struct {
	TieBreak TieBreak
}

// Resolve maps sel to peers. It returns a warning for every id that was skipped.
func Resolve(all []peers.Peer, sel Selector, opts ResolveOptions) ([]peers.Peer, []string) {
	switch sel.Kind {
	case SelectAll:
		return all, nil
	case SelectLeastLoaded:
		if p, ok := leastLoaded(all, opts.TieBreak); ok {
			return []peers.Peer{p}, nil
		}
		return nil, nil
	}

	var warnings []string
	for _, tok := range sel.Invalid {
		warnings = append(warnings, fmt.Sprintf("peer id %q is not a number", tok))
	}
	out := make([]peers.Peer, 0, len(sel.IDs))
	for _, id := range sel.IDs {
		p, ok := find(all, id)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("peer %d is not registered", id))
			continue
		}
		out = append(out, p)
	}
	return out, warnings
}

func leastLoaded(all []peers.Peer, tie TieBreak) (peers.Peer, bool) {
	if len(all) == 0 {
		return peers.Peer{}, false
	}
	best := all[0]
	for _, p := range all[1:] {
		switch {
		case p.Load < best.Load:
			best = p
		case p.Load > best.Load:
		case tie == TieLowestID && p.ID < best.ID:
			best = p
		case tie == TieHighestID && p.ID > best.ID:
			best = p
		}
	}
	return best, true
}

func find(all []peers.Peer, id int) (peers.Peer, bool) {
	for _, p := range all {
		if p.ID == id {
			return p, true
		}
	}
	return peers.Peer{}, false
}
