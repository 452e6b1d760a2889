package ring

import (
	"fmt"
	"testing"
)

func testNodes(n int) []Node {
	nodes := make([]Node, n)
	for i := 0; i < n; i++ {
		nodes[i] = Node{IP: "127.0.0.1", Port: 9000 + i}
	}
	return nodes
}

func TestNewRejectsEmptyNodeSet(t *testing.T) {
	if _, err := New(10, nil); err == nil {
		t.Error("expected error constructing a ring with no nodes")
	}
}

func TestNewBuildsTokensPerNode(t *testing.T) {
	r, err := New(10, testNodes(3))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if r.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", r.Size())
	}
	if len(r.Tokens()) != 30 {
		t.Errorf("expected 30 vnodes, got %d", len(r.Tokens()))
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	r, _ := New(10, testNodes(1))
	if err := r.Add(r.Nodes()[0]); err == nil {
		t.Error("expected error adding a node that already exists")
	}
}

func TestRemove(t *testing.T) {
	nodes := testNodes(3)
	r, _ := New(10, nodes)

	if err := r.Remove(nodes[1]); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if r.Size() != 2 {
		t.Errorf("expected 2 nodes, got %d", r.Size())
	}
	for _, tok := range r.Tokens() {
		if tok.Node == nodes[1] {
			t.Error("removed node still present in ring tokens")
		}
	}
}

func TestRemoveUnknownNode(t *testing.T) {
	r, _ := New(10, testNodes(2))
	if err := r.Remove(Node{IP: "10.0.0.1", Port: 1}); err == nil {
		t.Error("expected error removing a node not on the ring")
	}
}

func TestPrimaryIsDeterministic(t *testing.T) {
	r, _ := New(100, testNodes(3))

	n1, err := r.Primary("testkey")
	if err != nil {
		t.Fatalf("Primary failed: %v", err)
	}
	n2, _ := r.Primary("testkey")
	if n1 != n2 {
		t.Errorf("same key mapped to different primaries: %v vs %v", n1, n2)
	}
}

func TestPrimaryDistributesAcrossNodes(t *testing.T) {
	nodes := testNodes(3)
	r, _ := New(100, nodes)

	counts := make(map[Node]int)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		node, err := r.Primary(key)
		if err != nil {
			t.Fatalf("Primary failed: %v", err)
		}
		counts[node]++
	}
	for _, n := range nodes {
		if counts[n] == 0 {
			t.Errorf("node %v received no keys", n)
		}
	}
}

func TestReplicasAreDistinctAndPrimaryFirst(t *testing.T) {
	r, _ := New(100, testNodes(4))

	replicas, err := r.Replicas("testkey", 3)
	if err != nil {
		t.Fatalf("Replicas failed: %v", err)
	}
	if len(replicas) != 3 {
		t.Fatalf("expected 3 replicas, got %d", len(replicas))
	}

	primary, _ := r.Primary("testkey")
	if replicas[0] != primary {
		t.Errorf("expected replicas[0] to be the primary %v, got %v", primary, replicas[0])
	}

	seen := make(map[Node]bool)
	for _, n := range replicas {
		if seen[n] {
			t.Errorf("duplicate node in replica set: %v", n)
		}
		seen[n] = true
	}
}

func TestReplicasErrorsWhenNotEnoughNodes(t *testing.T) {
	r, _ := New(100, testNodes(2))
	if _, err := r.Replicas("testkey", 3); err == nil {
		t.Error("expected error when fewer nodes than replication factor")
	}
}

func TestConsistencyOnNodeAddition(t *testing.T) {
	nodes := testNodes(3)
	r, _ := New(100, nodes)

	before := make(map[string]Node)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		n, _ := r.Primary(key)
		before[key] = n
	}

	if err := r.Add(Node{IP: "127.0.0.1", Port: 9100}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	moved := 0
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		n, _ := r.Primary(key)
		if n != before[key] {
			moved++
		}
	}

	// Consistent hashing should move roughly 1/4 of keys onto the new
	// node, not rehash the whole keyspace. Allow generous variance.
	if moved > 50 {
		t.Errorf("too many keys moved (%d) after adding a node", moved)
	}
}

func TestLoadDistributionSumsToFull(t *testing.T) {
	r, _ := New(100, testNodes(3))

	total := 0.0
	for _, load := range r.LoadDistribution() {
		total += load
	}
	if total < 99.9 || total > 100.1 {
		t.Errorf("load distribution should sum to ~100%%, got %.2f%%", total)
	}
}

func TestKeyHashIsDeterministic(t *testing.T) {
	if KeyHash("abc") != KeyHash("abc") {
		t.Error("KeyHash is not deterministic for the same input")
	}
}
