package coordinator

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/config"
	"github.com/mini-dynamo/mini-dynamo/internal/metrics"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/internal/transport"
	"github.com/mini-dynamo/mini-dynamo/internal/wire"
	"github.com/mini-dynamo/mini-dynamo/internal/workerpool"
)

// ClientCoordinator is the client side of the protocol: it sends PUTs
// straight to a key's primary and fans GETs out across the whole
// preference list, reconciling by last-write-wins and repairing any
// replica found to be stale.
type ClientCoordinator struct {
	cfg  *config.Config
	ring *ring.Ring
	pool *workerpool.Pool
	log  *zap.SugaredLogger
}

// NewClientCoordinator builds a client coordinator against a ring
// built from the same static node list as the cluster it talks to.
func NewClientCoordinator(cfg *config.Config, r *ring.Ring, log *zap.SugaredLogger) *ClientCoordinator {
	return &ClientCoordinator{
		cfg:  cfg,
		ring: r,
		pool: workerpool.New(cfg.WorkerPoolSize),
		log:  log,
	}
}

// Close stops the coordinator's background worker pool. Call it once
// the coordinator is no longer needed (read repair may still be
// in-flight when Put/Get return).
func (c *ClientCoordinator) Close() {
	c.pool.Stop()
}

// Put sends value for key to the key's primary node only. Replication
// to the rest of the preference list is the primary's responsibility
// (ServerCoordinator.put), not the client's.
func (c *ClientCoordinator) Put(key, value string) error {
	primary, err := c.ring.Primary(key)
	if err != nil {
		return fmt.Errorf("coordinator: failed to resolve primary for %q: %w", key, err)
	}
	resp, err := c.putAt(primary, wire.PutRequest{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("coordinator: put to %v failed: %w", primary, err)
	}
	if !resp.Success {
		return fmt.Errorf("coordinator: primary %v reported failure replicating %q", primary, key)
	}
	return nil
}

type replicaReply struct {
	node     ring.Node
	response wire.GetResponse
	ok       bool
}

// Get fans a GET out to every replica in key's preference list, waits
// for cluster-wide quorum worth of received-and-parsed replies (found
// or not — a reply counts towards quorum whether or not the key was
// present, but a transport error or timeout never does), then returns
// the highest-timestamp value any replica reported as found. A chosen
// result triggers asynchronous read repair against any replica whose
// reply disagreed with it.
func (c *ClientCoordinator) Get(key string) (string, bool, error) {
	metrics.GetsTotal.Inc()
	replicas, err := c.ring.Replicas(key, c.cfg.ReplicationFactor)
	if err != nil {
		return "", false, fmt.Errorf("coordinator: failed to resolve replicas for %q: %w", key, err)
	}

	threshold := c.cfg.Quorum()
	replies := make([]replicaReply, len(replicas))
	done := make(chan int, len(replicas))

	for i, peer := range replicas {
		i, peer := i, peer
		go func() {
			resp, err := c.getFrom(peer, wire.GetRequest{Key: key})
			if err == nil {
				replies[i] = replicaReply{node: peer, response: *resp, ok: true}
			} else {
				c.log.Warnw("get from replica failed", "peer", peer, "error", err)
			}
			done <- i
		}()
	}

	deadline := time.After(c.cfg.GetTimeout)
	arrived := make([]bool, len(replicas))
	answered := 0
	succeeded := 0
loop:
	for answered < len(replicas) {
		select {
		case i := <-done:
			arrived[i] = true
			answered++
			if replies[i].ok {
				succeeded++
			}
			if succeeded >= threshold {
				break loop
			}
		case <-deadline:
			break loop
		}
	}

	if succeeded < threshold {
		metrics.QuorumFailuresTotal.WithLabelValues("get").Inc()
		return "", false, fmt.Errorf("coordinator: failed to reach quorum (%d) for %q within %s", threshold, key, c.cfg.GetTimeout)
	}

	// Only indices that have signaled arrival on done are safe to read:
	// the channel receive happens-after that goroutine's write to
	// replies, but stragglers past the deadline may still be writing.
	var chosen *replicaReply
	for i, arrivedHere := range arrived {
		if !arrivedHere {
			continue
		}
		r := replies[i]
		if !r.ok || !r.response.Found {
			continue
		}
		if chosen == nil || r.response.Timestamp > chosen.response.Timestamp {
			rCopy := r
			chosen = &rCopy
		}
	}

	if chosen == nil {
		return "", false, nil
	}

	liveReplicas := make([]ring.Node, 0, len(replicas))
	liveReplies := make([]replicaReply, 0, len(replicas))
	for i, arrivedHere := range arrived {
		if !arrivedHere {
			continue
		}
		liveReplicas = append(liveReplicas, replicas[i])
		liveReplies = append(liveReplies, replies[i])
	}

	c.readRepair(key, liveReplicas, liveReplies, *chosen)
	return chosen.response.Value, true, nil
}

// readRepair fires a fresh PUT at every replica whose reply didn't
// match the chosen result. It deliberately omits ProposedTimestamp
// (see DESIGN.md, Open Question 2): the repaired replica re-stamps the
// write with its own clock the same as any other fresh write.
func (c *ClientCoordinator) readRepair(key string, replicas []ring.Node, replies []replicaReply, chosen replicaReply) {
	for i, peer := range replicas {
		reply := replies[i]
		if reply.ok && reply.response.Found &&
			reply.response.Timestamp == chosen.response.Timestamp &&
			reply.response.Value == chosen.response.Value {
			continue
		}
		peer := peer
		c.pool.Submit(func() {
			metrics.ReadRepairsTotal.Inc()
			if _, err := c.putAt(peer, wire.PutRequest{Key: key, Value: chosen.response.Value}); err != nil {
				c.log.Warnw("read repair failed", "peer", peer, "error", err)
			}
		})
	}
}

func (c *ClientCoordinator) putAt(node ring.Node, req wire.PutRequest) (*wire.PutResponse, error) {
	conn, err := net.DialTimeout("tcp", node.String(), c.cfg.ReplicationTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %v: %w", node, err)
	}
	defer conn.Close()

	body, err := json.Marshal(wire.ClientMessage{Put: &req})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal put request: %w", err)
	}
	if err := transport.Send(conn, body); err != nil {
		return nil, fmt.Errorf("failed to send put request: %w", err)
	}

	raw, err := transport.Recv(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read put response: %w", err)
	}
	var resp wire.ServerMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse put response: %w", err)
	}
	if resp.Status != wire.StatusOK || resp.Put == nil {
		return nil, fmt.Errorf("server reported status %s: %s", resp.Status, resp.ErrorMessage)
	}
	return resp.Put, nil
}

func (c *ClientCoordinator) getFrom(node ring.Node, req wire.GetRequest) (*wire.GetResponse, error) {
	conn, err := net.DialTimeout("tcp", node.String(), c.cfg.GetTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %v: %w", node, err)
	}
	defer conn.Close()

	body, err := json.Marshal(wire.ClientMessage{Get: &req})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal get request: %w", err)
	}
	if err := transport.Send(conn, body); err != nil {
		return nil, fmt.Errorf("failed to send get request: %w", err)
	}

	raw, err := transport.Recv(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read get response: %w", err)
	}
	var resp wire.ServerMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse get response: %w", err)
	}
	if resp.Status != wire.StatusOK || resp.Get == nil {
		return nil, fmt.Errorf("server reported status %s: %s", resp.Status, resp.ErrorMessage)
	}
	return resp.Get, nil
}
