// Package ring implements the consistent hash ring used to assign keys
// to physical nodes and to build each key's replica preference list.
package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Node identifies one physical server in the cluster.
type Node struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (n Node) String() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// vtoken is one virtual node's position on the ring.
type vtoken struct {
	hash     uint64
	nodeIdx  int
	vnodeIdx int
}

// Ring is a consistent hash ring with virtual nodes over a set of
// physical nodes. Node membership is not dynamic: Add/Remove exist for
// constructing and, in tests, perturbing the ring, but nothing in this
// system discovers membership changes at runtime.
type Ring struct {
	mu      sync.RWMutex
	nodes   []Node
	tokens  []vtoken // sorted by hash
	virtual int
}

// New builds a ring with the given virtual-node count per physical node
// and an initial static node set, mirroring the constructor contract of
// the original hash ring (construction fails loudly on an empty node
// set rather than silently operating on zero nodes).
func New(virtual int, nodes []Node) (*Ring, error) {
	if virtual < 1 {
		virtual = 100
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("ring: node set must not be empty")
	}
	r := &Ring{virtual: virtual}
	for _, n := range nodes {
		if err := r.Add(n); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func hash(key string) uint64 {
	h := murmur3.New64()
	h.Write([]byte(key))
	return h.Sum64()
}

// Add inserts a physical node and its virtual nodes into the ring.
func (r *Ring) Add(n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.nodes {
		if existing == n {
			return fmt.Errorf("ring: node %s already exists", n)
		}
	}

	r.nodes = append(r.nodes, n)
	nodeIdx := len(r.nodes) - 1

	for i := 0; i < r.virtual; i++ {
		key := fmt.Sprintf("%s:%d:%d", n.IP, n.Port, i)
		r.tokens = append(r.tokens, vtoken{hash: hash(key), nodeIdx: nodeIdx, vnodeIdx: i})
	}

	sort.Slice(r.tokens, func(i, j int) bool { return r.tokens[i].hash < r.tokens[j].hash })
	return nil
}

// Remove takes a physical node and its virtual nodes out of the ring.
// Index compaction mirrors the original: the last node in the slice
// takes over the removed node's index so every token pointing at it
// keeps resolving correctly without a full rebuild.
func (r *Ring) Remove(n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodeIdx := -1
	for i, existing := range r.nodes {
		if existing == n {
			nodeIdx = i
			break
		}
	}
	if nodeIdx == -1 {
		return fmt.Errorf("ring: node %s not found", n)
	}

	lastIdx := len(r.nodes) - 1
	r.nodes[nodeIdx] = r.nodes[lastIdx]
	r.nodes = r.nodes[:lastIdx]

	kept := r.tokens[:0]
	for _, tok := range r.tokens {
		if tok.nodeIdx == nodeIdx {
			continue
		}
		if tok.nodeIdx == lastIdx {
			tok.nodeIdx = nodeIdx
		}
		kept = append(kept, tok)
	}
	r.tokens = kept
	return nil
}

// Primary returns the node responsible for coordinating writes to key.
func (r *Ring) Primary(key string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.tokens) == 0 {
		return Node{}, fmt.Errorf("ring: empty ring")
	}

	idx := r.indexForHash(hash(key))
	return r.nodes[r.tokens[idx].nodeIdx], nil
}

// Replicas returns the n distinct physical nodes a key replicates to,
// walking the ring clockwise from its primary. index 0 is always the
// primary node returned by Primary.
func (r *Ring) Replicas(key string, n int) ([]Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.nodes) < n {
		return nil, fmt.Errorf("ring: only %d nodes, need %d for replication", len(r.nodes), n)
	}
	if len(r.tokens) == 0 {
		return nil, fmt.Errorf("ring: empty ring")
	}

	start := r.indexForHash(hash(key))
	result := make([]Node, 0, n)
	seen := make(map[int]bool, n)

	for i := 0; len(result) < n; i++ {
		idx := (start + i) % len(r.tokens)
		nodeIdx := r.tokens[idx].nodeIdx
		if !seen[nodeIdx] {
			seen[nodeIdx] = true
			result = append(result, r.nodes[nodeIdx])
		}
	}
	return result, nil
}

// indexForHash finds the first ring token whose hash is strictly
// greater than h (the Go equivalent of std::map::upper_bound), wrapping
// to the start of the ring. Caller must hold r.mu.
func (r *Ring) indexForHash(h uint64) int {
	idx := sort.Search(len(r.tokens), func(i int) bool { return r.tokens[i].hash > h })
	if idx >= len(r.tokens) {
		idx = 0
	}
	return idx
}

// Size returns the number of physical nodes currently in the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Nodes returns a copy of the physical node set.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Token is one virtual node's position on the ring, as returned by
// Tokens.
type Token struct {
	Hash     uint64 `json:"hash"`
	Node     Node   `json:"node"`
	VNodeIdx int    `json:"vnode_index"`
}

// Tokens returns every virtual node token on the ring, sorted by hash.
func (r *Ring) Tokens() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, len(r.tokens))
	for i, tok := range r.tokens {
		out[i] = Token{Hash: tok.hash, Node: r.nodes[tok.nodeIdx], VNodeIdx: tok.vnodeIdx}
	}
	return out
}

// KeyHash exposes the ring's hash function for diagnostics and tests.
func KeyHash(key string) uint64 {
	return hash(key)
}
