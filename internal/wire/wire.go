// Package wire defines the JSON message schema exchanged between
// client and server over the framed transport in internal/transport.
package wire

// Status reports whether a server could make sense of a ClientMessage
// at all, independent of whether the underlying GET/PUT succeeded.
type Status string

const (
	StatusOK      Status = "OK"
	StatusInvalid Status = "INVALID"
)

// GetRequest asks a server for the current value of a key.
type GetRequest struct {
	Key string `json:"key"`
}

// GetResponse is a server's answer to a GetRequest.
type GetResponse struct {
	Found     bool   `json:"found"`
	Value     string `json:"value,omitempty"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}

// PutRequest asks a server to store value for key. ProposedTimestamp is
// set by a primary forwarding a write to its replicas, carrying the
// timestamp it already committed locally; it is left nil for a fresh
// client write and for read-repair writes (see DESIGN.md, Open
// Question 2), letting the receiving server's own clock assign one.
type PutRequest struct {
	Key               string  `json:"key"`
	Value             string  `json:"value"`
	ProposedTimestamp *uint64 `json:"proposed_timestamp,omitempty"`
}

// PutResponse reports whether a PUT (and, for a primary, its
// replication fan-out) succeeded.
type PutResponse struct {
	Success bool `json:"success"`
}

// ClientMessage is exactly one of Get or Put, matching the oneof in
// the protocol this wire format is derived from.
type ClientMessage struct {
	Get *GetRequest `json:"get,omitempty"`
	Put *PutRequest `json:"put,omitempty"`
}

// ServerMessage is a server's single response to a ClientMessage: a
// Status, an optional error message when Status is INVALID, and at
// most one of Get or Put mirroring whichever request was made.
type ServerMessage struct {
	Status       Status       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Get          *GetResponse `json:"get,omitempty"`
	Put          *PutResponse `json:"put,omitempty"`
}
