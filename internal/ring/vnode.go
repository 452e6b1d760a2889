package ring

import "fmt"

// TokenRange is a contiguous span of the hash space owned by one node,
// bounded by its virtual node token and the previous token on the ring.
type TokenRange struct {
	StartHash uint64 `json:"start_hash"`
	EndHash   uint64 `json:"end_hash"`
	Node      Node   `json:"node"`
}

// TokenRanges returns the token ranges owned by every virtual node on
// the ring, used by the admin ring dump.
func (r *Ring) TokenRanges() []TokenRange {
	tokens := r.Tokens()
	if len(tokens) == 0 {
		return nil
	}

	ranges := make([]TokenRange, len(tokens))
	for i, tok := range tokens {
		var start uint64
		if i == 0 {
			start = tokens[len(tokens)-1].Hash + 1
		} else {
			start = tokens[i-1].Hash + 1
		}
		ranges[i] = TokenRange{StartHash: start, EndHash: tok.Hash, Node: tok.Node}
	}
	return ranges
}

// LoadDistribution returns the percentage of keyspace each physical
// node owns, summed across all of its virtual node ranges, keyed by
// the node's dialable address string rather than the Node struct
// itself so the result can be JSON-encoded directly (Node has no
// MarshalText/MarshalJSON, only a Stringer).
func (r *Ring) LoadDistribution() map[string]float64 {
	ranges := r.TokenRanges()
	if len(ranges) == 0 {
		return nil
	}

	// Sizes are summed as float64: the ranges cover the whole 2^64 hash
	// space, so a uint64 total would wrap around to zero.
	load := make(map[Node]float64)
	var total float64
	for _, rg := range ranges {
		var size uint64
		if rg.EndHash >= rg.StartHash {
			size = rg.EndHash - rg.StartHash + 1
		} else {
			size = (^uint64(0) - rg.StartHash) + rg.EndHash + 2
		}
		load[rg.Node] += float64(size)
		total += float64(size)
	}

	dist := make(map[string]float64, len(load))
	for node, l := range load {
		dist[node.String()] = l / total * 100
	}
	return dist
}

// Status renders a human-readable summary of ring ownership, used by
// the server's startup log line.
func (r *Ring) Status() string {
	nodes := r.Nodes()
	if len(nodes) == 0 {
		return "ring is empty"
	}

	out := fmt.Sprintf("ring: %d physical nodes, %d virtual nodes\n", len(nodes), len(r.Tokens()))
	for node, load := range r.LoadDistribution() {
		out += fmt.Sprintf("  %s: %.2f%% of keyspace\n", node, load)
	}
	return out
}
