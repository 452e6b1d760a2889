// Package coordinator implements the two halves of mini-dynamo's
// replication protocol: the server-side primary-coordinated PUT
// (ServerCoordinator) and the client-side quorum GET with read repair
// (ClientCoordinator).
package coordinator

import (
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/config"
	"github.com/mini-dynamo/mini-dynamo/internal/metrics"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/internal/store"
	"github.com/mini-dynamo/mini-dynamo/internal/transport"
	"github.com/mini-dynamo/mini-dynamo/internal/wire"
	"github.com/mini-dynamo/mini-dynamo/internal/workerpool"
)

// ServerCoordinator runs one node's side of the cluster protocol: it
// accepts framed connections, serves GET directly out of its local
// store, and for PUT acts as the key's primary, replicating the write
// to the rest of the preference list before acknowledging the client.
type ServerCoordinator struct {
	cfg   *config.Config
	ring  *ring.Ring
	store *store.Store
	pool  *workerpool.Pool
	self  ring.Node
	log   *zap.SugaredLogger

	listener net.Listener
}

// NewServerCoordinator wires a store, ring, and worker pool into a
// coordinator bound to self's position in the ring.
func NewServerCoordinator(cfg *config.Config, r *ring.Ring, s *store.Store, self ring.Node, log *zap.SugaredLogger) *ServerCoordinator {
	return &ServerCoordinator{
		cfg:   cfg,
		ring:  r,
		store: s,
		pool:  workerpool.New(cfg.WorkerPoolSize),
		self:  self,
		log:   log,
	}
}

// ListenAndServe binds the node's listen address and runs the accept
// loop, dispatching each connection to the worker pool, until the
// listener is closed by Stop.
func (s *ServerCoordinator) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.FullAddress())
	if err != nil {
		return fmt.Errorf("coordinator: failed to listen on %s: %w", s.cfg.FullAddress(), err)
	}
	s.listener = ln
	s.log.Infow("server listening", "address", s.cfg.FullAddress())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("coordinator: accept failed: %w", err)
		}
		s.pool.Submit(func() {
			s.handleConnection(conn)
		})
	}
}

// Stop closes the listener and drains the worker pool.
func (s *ServerCoordinator) Stop() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.pool.Stop()
	return err
}

func (s *ServerCoordinator) handleConnection(conn net.Conn) {
	defer conn.Close()

	raw, err := transport.Recv(conn)
	if err != nil {
		s.log.Warnw("failed to read client message", "error", err)
		return
	}

	var clientMsg wire.ClientMessage
	resp := wire.ServerMessage{Status: wire.StatusOK}

	if err := json.Unmarshal(raw, &clientMsg); err != nil {
		resp.Status = wire.StatusInvalid
		resp.ErrorMessage = fmt.Sprintf("failed to parse client message: %v", err)
	} else if clientMsg.Get != nil {
		resp.Get = s.get(clientMsg.Get)
	} else if clientMsg.Put != nil {
		resp.Put = s.put(clientMsg.Put)
	} else {
		resp.Status = wire.StatusInvalid
		resp.ErrorMessage = "message does not have a get or put request"
	}

	body, err := json.Marshal(resp)
	if err != nil {
		s.log.Errorw("failed to marshal response", "error", err)
		return
	}
	if err := transport.Send(conn, body); err != nil {
		s.log.Warnw("failed to send response", "error", err)
	}
}

func (s *ServerCoordinator) get(req *wire.GetRequest) *wire.GetResponse {
	metrics.GetsTotal.Inc()
	e, ok := s.store.Get(req.Key)
	if !ok {
		return &wire.GetResponse{Found: false}
	}
	return &wire.GetResponse{Found: true, Value: e.Value, Timestamp: e.Timestamp}
}

// put applies req locally, then — only if this node is the key's
// primary — replicates it to the rest of the preference list and
// waits for cluster-wide quorum before acknowledging. A non-primary
// replica receiving a forwarded write applies it and returns success
// immediately without forwarding further.
func (s *ServerCoordinator) put(req *wire.PutRequest) *wire.PutResponse {
	metrics.PutsTotal.Inc()
	applied := s.store.Put(req.Key, req.Value, req.ProposedTimestamp)

	replicas, err := s.ring.Replicas(req.Key, s.cfg.ReplicationFactor)
	if err != nil {
		s.log.Errorw("failed to resolve replicas", "key", req.Key, "error", err)
		return &wire.PutResponse{Success: false}
	}

	if replicas[0] != s.self {
		return &wire.PutResponse{Success: true}
	}

	forwarded := wire.PutRequest{Key: req.Key, Value: req.Value, ProposedTimestamp: &applied}
	start := time.Now()
	ok := s.replicate(forwarded, replicas)
	metrics.ReplicationLatencySeconds.Observe(time.Since(start).Seconds())
	if !ok {
		metrics.QuorumFailuresTotal.WithLabelValues("put").Inc()
	}
	return &wire.PutResponse{Success: ok}
}

// replicate forwards req to every node in replicas[1:] and blocks
// until cluster-wide quorum (primary included) acknowledges, the
// configured timeout elapses, or every forward has answered —
// whichever comes first.
func (s *ServerCoordinator) replicate(req wire.PutRequest, replicas []ring.Node) bool {
	threshold := int32(s.cfg.Quorum())
	acked := int32(1) // the primary's own local write counts
	peers := replicas[1:]
	done := make(chan struct{}, len(peers))

	for _, peer := range peers {
		peer := peer
		s.pool.Submit(func() {
			if s.forwardPut(peer, req) {
				atomic.AddInt32(&acked, 1)
			}
			done <- struct{}{}
		})
	}

	deadline := time.After(s.cfg.ReplicationTimeout)
	answered := 0
	for answered < len(peers) {
		if atomic.LoadInt32(&acked) >= threshold {
			return true
		}
		select {
		case <-done:
			answered++
		case <-deadline:
			return atomic.LoadInt32(&acked) >= threshold
		}
	}
	return atomic.LoadInt32(&acked) >= threshold
}

func (s *ServerCoordinator) forwardPut(peer ring.Node, req wire.PutRequest) bool {
	conn, err := net.DialTimeout("tcp", peer.String(), s.cfg.ReplicationTimeout)
	if err != nil {
		s.log.Warnw("failed to connect to replica", "peer", peer, "error", err)
		return false
	}
	defer conn.Close()

	body, err := json.Marshal(wire.ClientMessage{Put: &req})
	if err != nil {
		s.log.Errorw("failed to marshal forwarded put", "error", err)
		return false
	}
	if err := transport.Send(conn, body); err != nil {
		s.log.Warnw("failed to send forwarded put", "peer", peer, "error", err)
		return false
	}

	raw, err := transport.Recv(conn)
	if err != nil {
		s.log.Warnw("failed to read replica response", "peer", peer, "error", err)
		return false
	}
	var resp wire.ServerMessage
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Put == nil {
		return false
	}
	return resp.Put.Success
}
