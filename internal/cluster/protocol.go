package cluster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"bldr/internal/digest"
)

// MessageType identifies the coordinator/worker wire messages from spec.md's
// message protocol: Register, Heartbeat, Assign, Result, Fetch, Store, and
// the peer-to-peer Steal extension.
type MessageType string

const (
	MsgRegister  MessageType = "register"
	MsgHeartbeat MessageType = "heartbeat"
	MsgAssign    MessageType = "assign"
	MsgResult    MessageType = "result"
	MsgFetch     MessageType = "fetch"
	MsgStore     MessageType = "store"
	MsgSteal     MessageType = "steal"
	MsgAck       MessageType = "ack"
	MsgError     MessageType = "error"
)

// Envelope is the wire format for every message: a type tag and a raw JSON
// payload whose shape is determined by Type, plus an ID used to match
// request/response pairs over a shared connection.
type Envelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RegisterPayload is sent once by a worker on connecting.
type RegisterPayload struct {
	WorkerID     string   `json:"worker_id"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
	Platform     string   `json:"platform"`
}

// HeartbeatPayload is sent periodically by a worker.
type HeartbeatPayload struct {
	WorkerID   string  `json:"worker_id"`
	QueueDepth int     `json:"queue_depth"`
	LoadFactor float64 `json:"load_factor"`
}

// AssignPayload dispatches one action to a worker.
type AssignPayload struct {
	ActionID    string             `json:"action_id"`
	Command     []string           `json:"command"`
	Env         map[string]string  `json:"env"`
	Inputs      []digest.InputPair `json:"inputs"`
	OutputPaths []string           `json:"output_paths"`
	Priority    int                `json:"priority"`
}

// ResultPayload reports the outcome of an assigned action.
type ResultPayload struct {
	ActionID     string                   `json:"action_id"`
	Success      bool                     `json:"success"`
	ExitCode     int                      `json:"exit_code"`
	StdoutDigest digest.Digest            `json:"stdout_digest"`
	StderrDigest digest.Digest            `json:"stderr_digest"`
	Outputs      map[string]digest.Digest `json:"outputs"`
	DurationMS   int64                    `json:"duration_ms"`
	FailureKind  string                   `json:"failure_kind,omitempty"`
	Message      string                   `json:"message,omitempty"`
}

// FetchPayload requests a blob by digest.
type FetchPayload struct {
	Digest digest.Digest `json:"digest"`
}

// StorePayload pushes a blob by digest.
type StorePayload struct {
	Digest digest.Digest `json:"digest"`
	Bytes  []byte        `json:"bytes"`
}

// StealPayload requests up to Count ready actions be transferred from the
// recipient's scheduler to the caller's.
type StealPayload struct {
	ThiefWorkerID string `json:"thief_worker_id"`
	Count         int    `json:"count"`
}

// PeerListPayload is piggybacked on a heartbeat Ack so a worker can refresh
// its PeerTable without a separate gossip round: the coordinator already
// aggregates every worker's queue_depth/load_factor via Heartbeat, so it
// doubles as the peer rendezvous a Stealer needs to find steal targets.
type PeerListPayload struct {
	Peers []PeerView `json:"peers,omitempty"`
}

// maxFrameSize bounds a single message so a corrupt or hostile length
// prefix can't trigger an unbounded allocation.
const maxFrameSize = 256 * 1024 * 1024

// WriteFrame writes env as a 4-byte big-endian length prefix followed by
// its JSON encoding.
func WriteFrame(w io.Writer, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed envelope from r.
func ReadFrame(r io.Reader) (Envelope, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxFrameSize {
		return Envelope{}, fmt.Errorf("frame of %d bytes exceeds maximum of %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	return env, nil
}

// decode unmarshals an envelope's payload into dst.
func decode(env Envelope, dst any) error {
	return json.Unmarshal(env.Payload, dst)
}

// encode builds an envelope carrying payload, tagged with msgType and id.
func encode(id string, msgType MessageType, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: id, Type: msgType, Payload: b}, nil
}

// Conn wraps a net.Conn with frame-level read/write and a per-call deadline,
// used by both the coordinator's per-worker handler goroutine and the
// worker's coordinator client.
type Conn struct {
	net.Conn
	ReadTimeout time.Duration
}

// WriteEnvelope sends env. No write deadline is applied.
func (c *Conn) WriteEnvelope(env Envelope) error {
	return WriteFrame(c.Conn, env)
}

// ReadEnvelope reads the next envelope, applying the read deadline if set.
func (c *Conn) ReadEnvelope() (Envelope, error) {
	if c.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	}
	return ReadFrame(c.Conn)
}
