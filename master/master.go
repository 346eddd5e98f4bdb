// Package master implements the parameter-server side of spec.md §4.6: a
// single serialized weights buffer plus a monotonically bumped version
// token, served over the wire package's framed TCP protocol. The shared
// state is guarded by one sync.RWMutex the way the teacher's
// TokenBucketRateLimiter guards its token count — GetWeights takes a
// read lock to copy a slice header, SetWeights/UpdWeights take a write
// lock only around the buffer swap or delta application.
package master

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"
	"github.com/muchq/tensorgraph/audit"
	"github.com/muchq/tensorgraph/codec"
	"github.com/muchq/tensorgraph/metrics"
	"github.com/muchq/tensorgraph/monitor"
	"github.com/muchq/tensorgraph/ratelimit"
	"github.com/muchq/tensorgraph/wire"
)

// ChunkSize is the maximum number of weight bytes a single
// GetWeightsResponse/SetWeights/UpdWeights frame carries. Kept below
// wire.MaxChunkSize to leave headroom in the frame for the envelope's
// other fields (version token, completion flag) — ReadEnvelope caps a
// whole frame at MaxChunkSize+64, and a buffer sized exactly to
// MaxChunkSize leaves no room for those.
const ChunkSize = wire.MaxChunkSize - 4096

// Master holds the canonical weights buffer and serves it over TCP.
type Master struct {
	mu      sync.RWMutex
	weights []byte
	version string
	counter int

	weightsPath string

	recent *lru.Cache[string, []byte]

	metrics     *metrics.Recorder
	audit       *audit.Log
	monitor     *monitor.Broadcaster
	connLimiter *ratelimit.KeyLimiter

	listener net.Listener
}

// Option configures optional components on a Master.
type Option func(*Master)

// WithMetrics attaches a metrics.Recorder; every handled RPC increments
// its counters.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Master) { m.metrics = r }
}

// WithAudit attaches a Postgres audit trail; every completed write is
// recorded as one row.
func WithAudit(l *audit.Log) Option {
	return func(m *Master) { m.audit = l }
}

// WithMonitor attaches a websocket broadcaster; every completed write
// publishes one Event.
func WithMonitor(b *monitor.Broadcaster) Option {
	return func(m *Master) { m.monitor = b }
}

// WithConnectionLimit throttles accepted connections per remote host
// using a token bucket, protecting the master from a runaway or
// misconfigured worker fleet opening far more connections than the
// training topology calls for.
func WithConnectionLimit(cfg ratelimit.Config) Option {
	return func(m *Master) { m.connLimiter = ratelimit.NewKeyLimiter(cfg) }
}

// New constructs a Master. If weightsPath names an existing file, its
// contents seed the initial weights buffer (the "loads it on startup if
// present" behavior from spec.md §6); otherwise the master starts with
// an empty weights buffer and an empty version (first-write-wins).
func New(weightsPath string, opts ...Option) (*Master, error) {
	recent, err := lru.New[string, []byte](16)
	if err != nil {
		return nil, fmt.Errorf("master: creating recent-version cache: %w", err)
	}
	m := &Master{weightsPath: weightsPath, recent: recent}

	if weightsPath != "" {
		if data, err := os.ReadFile(weightsPath); err == nil {
			m.weights = data
			m.version = uuid.NewString()
			m.recent.Add(m.version, data)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("master: reading persisted weights: %w", err)
		}
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Version returns the master's current version token.
func (m *Master) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Weights returns a copy of the master's current weights buffer.
func (m *Master) Weights() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.weights))
	copy(out, m.weights)
	return out
}

// Serve accepts connections on ln until it is closed, handling each on
// its own goroutine. It blocks until Accept returns a permanent error
// (typically because ln was closed by Shutdown).
func (m *Master) Serve(ln net.Listener) error {
	m.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if m.connLimiter != nil && !m.connLimiter.AllowConn(conn) {
			conn.Close()
			continue
		}
		go m.handleConn(conn)
	}
}

// Shutdown closes the listener (if any) and persists the current
// weights buffer to weightsPath, the SIGINT-triggered graceful-shutdown
// behavior from spec.md §6.
func (m *Master) Shutdown() error {
	if m.listener != nil {
		m.listener.Close()
	}
	if m.weightsPath == "" {
		return nil
	}
	return os.WriteFile(m.weightsPath, m.Weights(), 0o644)
}

func (m *Master) handleConn(conn net.Conn) {
	defer conn.Close()
	wc := wire.NewConn(conn)

	var setBuf, updBuf []byte
	var setVersion, updVersion string
	var setHasVersion, updHasVersion bool

	for {
		req, err := wc.ReadEnvelope()
		if err != nil {
			return
		}

		switch req.Kind {
		case wire.KindGetWeights:
			m.handleGetWeights(wc, req)

		case wire.KindSetWeights:
			if len(setBuf) == 0 {
				setHasVersion, setVersion = req.HasVersion, req.Version
			}
			setBuf = append(setBuf, req.Buffer...)
			if req.Complete {
				m.handleSetWeights(wc, conn, setHasVersion, setVersion, setBuf)
				setBuf = nil
			} else {
				m.respondSuccess(wc)
			}

		case wire.KindUpdWeights:
			if len(updBuf) == 0 {
				updHasVersion, updVersion = req.HasVersion, req.Version
			}
			updBuf = append(updBuf, req.Buffer...)
			if req.Complete {
				m.handleUpdWeights(wc, conn, updHasVersion, updVersion, updBuf)
				updBuf = nil
			} else {
				m.respondSuccess(wc)
			}

		default:
			m.respondError(wc, 400, fmt.Sprintf("unexpected request kind %d", req.Kind))
		}
	}
}

func (m *Master) handleGetWeights(wc *wire.Conn, req *wire.Envelope) {
	m.mu.RLock()
	weights := m.weights
	version := m.version
	m.mu.RUnlock()

	pos := int(req.Position)
	if pos < 0 || pos > len(weights) {
		m.respondError(wc, 416, "position out of range")
		return
	}
	end := pos + ChunkSize
	complete := end >= len(weights)
	if complete {
		end = len(weights)
	}

	if m.metrics != nil {
		m.metrics.ObserveGetWeights()
	}
	wc.WriteEnvelope(&wire.Envelope{
		Kind:       wire.KindGetWeightsResponse,
		HasVersion: true,
		Version:    version,
		Buffer:     weights[pos:end],
		Complete:   complete,
	})
}

func (m *Master) handleSetWeights(wc *wire.Conn, conn net.Conn, hasVersion bool, version string, buf []byte) {
	m.mu.Lock()
	if hasVersion && m.version != "" && version != m.version {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ObserveVersionMismatch()
		}
		m.respondVersionMismatch(wc)
		return
	}
	m.weights = append([]byte(nil), buf...)
	m.bumpVersionLocked()
	newVersion := m.version
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveSetWeights()
		m.metrics.ObserveWeightsSize(len(buf))
	}
	m.recordWrite(newVersion, audit.OpSetWeights, conn.RemoteAddr().String(), len(buf))

	wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindSetWeightsResponse, Version: newVersion})
}

func (m *Master) handleUpdWeights(wc *wire.Conn, conn net.Conn, hasVersion bool, version string, delta []byte) {
	m.mu.Lock()
	if hasVersion && version != m.version {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ObserveVersionMismatch()
		}
		m.respondVersionMismatch(wc)
		return
	}
	merged, err := applyDelta(m.weights, delta)
	if err != nil {
		m.mu.Unlock()
		m.respondError(wc, 422, err.Error())
		return
	}
	m.weights = merged
	m.bumpVersionLocked()
	newVersion := m.version
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveUpdWeights()
		m.metrics.ObserveWeightsSize(len(merged))
	}
	m.recordWrite(newVersion, audit.OpUpdWeights, conn.RemoteAddr().String(), len(delta))

	wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindUpdWeightsResponse, Version: newVersion})
}

// bumpVersionLocked must be called with mu held for writing. It derives
// the next version from a fixed per-master random prefix plus a
// monotonic counter (spec.md §4.6: "random on startup plus a counter").
func (m *Master) bumpVersionLocked() {
	m.counter++
	if m.version == "" {
		m.version = uuid.NewString()
	}
	base := m.version
	if idx := lastDash(base); idx >= 0 {
		base = base[:idx]
	}
	m.version = fmt.Sprintf("%s-%d", base, m.counter)
	m.recent.Add(m.version, m.weights)
}

func lastDash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '-' && i >= 36 {
			return i
		}
	}
	return -1
}

func (m *Master) recordWrite(version string, op audit.Op, remoteAddr string, byteLength int) {
	if m.audit != nil {
		if err := m.audit.Record(version, op, remoteAddr, byteLength); err != nil {
			slog.Error("audit record failed", "error", err)
		}
	}
	if m.monitor != nil {
		if err := m.monitor.Publish(monitor.Event{Version: version, DeltaBytes: byteLength, Op: string(op)}); err != nil {
			slog.Error("monitor publish failed", "error", err)
		}
	}
}

func (m *Master) respondSuccess(wc *wire.Conn) {
	wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindSuccessResponse})
}

func (m *Master) respondError(wc *wire.Conn, status uint32, message string) {
	wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindErrorResponse, Status: status, Message: message})
}

func (m *Master) respondVersionMismatch(wc *wire.Conn) {
	m.respondError(wc, 409, wire.ErrVersionMismatch.Error())
}

// applyDelta decodes both buffers in the training package's variable-list
// format and adds delta[i] into weights[i] for each variable, without
// instantiating a graph.Graph — the master holds only serialized bytes,
// never a live computation graph.
func applyDelta(weights, delta []byte) ([]byte, error) {
	wr := codec.NewReader(weights)
	dr := codec.NewReader(delta)

	wn, err := wr.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("master: reading weights variable count: %w", err)
	}
	dn, err := dr.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("master: reading delta variable count: %w", err)
	}
	if wn != dn {
		return nil, fmt.Errorf("master: variable count mismatch: weights have %d, delta has %d", wn, dn)
	}

	out := codec.NewWriter()
	out.WriteInt(wn)
	for i := 0; i < wn; i++ {
		wt, err := wr.ReadTensor()
		if err != nil {
			return nil, fmt.Errorf("master: reading weight tensor %d: %w", i, err)
		}
		dt, err := dr.ReadTensor()
		if err != nil {
			return nil, fmt.Errorf("master: reading delta tensor %d: %w", i, err)
		}
		out.WriteTensor(wt.Add(dt))
	}
	return out.Bytes(), nil
}
