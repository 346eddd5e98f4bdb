// Package worker implements the training-loop side of spec.md §4.7: one
// goroutine per CPU core by default, each owning a private
// training.Trainable loaded from a model plugin, cycling pull → set
// weights → batch_train N× → push delta → retry-on-VersionMismatch.
// Grounded on go/prom_proxy/cache.go's context.WithCancel + background
// goroutine pattern, adapted from a single periodic refresh loop to N
// independent per-thread training loops sharing one cancellation context.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"

	"github.com/muchq/tensorgraph/modelplugin"
	"github.com/muchq/tensorgraph/training"
	"github.com/muchq/tensorgraph/wire"
)

// Config controls a Worker's behavior.
type Config struct {
	// MasterAddr is the master's "host:port".
	MasterAddr string
	// NumThreads is how many training goroutines to run. 0 means
	// runtime.NumCPU().
	NumThreads int
	// BatchesPerCycle is how many BatchTrain calls to make between each
	// pull/push round trip.
	BatchesPerCycle int
}

// Worker drives NumThreads independent training loops, each pulling,
// training, and pushing against the same master.
type Worker struct {
	cfg    Config
	plugin *modelplugin.Plugin
}

// New constructs a Worker from cfg and a loaded model plugin.
func New(cfg Config, plugin *modelplugin.Plugin) *Worker {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = runtime.NumCPU()
	}
	if cfg.BatchesPerCycle <= 0 {
		cfg.BatchesPerCycle = 1
	}
	return &Worker{cfg: cfg, plugin: plugin}
}

// Run starts cfg.NumThreads training loops and blocks until ctx is
// canceled, at which point every loop finishes its current cycle and
// Run returns.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.NumThreads; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			w.runThread(ctx, idx)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) runThread(ctx context.Context, idx int) {
	model := w.plugin.Create(idx)
	defer w.plugin.Destroy(model)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := w.cycle(model); err != nil {
			slog.Error("training cycle failed", "worker", idx, "error", err)
		}
	}
}

// cycle runs exactly one pull/train*/push round for model. A push that
// hits VersionMismatch is not retried (spec.md §4.7 step 4: "drop the delta
// and loop back to step 1" — here that's simply returning nil so
// runThread's loop re-enters cycle from scratch).
func (w *Worker) cycle(model training.Trainable) error {
	version, weights, err := w.pull()
	if err != nil {
		return fmt.Errorf("worker: pull: %w", err)
	}
	if err := model.SetWeights(weights); err != nil {
		return fmt.Errorf("worker: set_weights: %w", err)
	}

	for i := 0; i < w.cfg.BatchesPerCycle; i++ {
		if _, err := model.BatchTrain(); err != nil {
			return fmt.Errorf("worker: batch_train: %w", err)
		}
	}

	delta, err := model.GetUpdate()
	if err != nil {
		return fmt.Errorf("worker: get_update: %w", err)
	}

	mismatch, err := w.push(version, delta)
	if err != nil {
		return fmt.Errorf("worker: push: %w", err)
	}
	if mismatch {
		// Drop this delta; the next cycle re-pulls the current weights.
		return nil
	}
	return nil
}

// pull fetches the master's current weights in full, stitching together
// however many chunks it takes, and returns the version observed.
func (w *Worker) pull() (string, []byte, error) {
	conn, err := net.Dial("tcp", w.cfg.MasterAddr)
	if err != nil {
		return "", nil, fmt.Errorf("dialing master: %w", err)
	}
	defer conn.Close()
	wc := wire.NewConn(conn)

	var version string
	var data []byte
	pos := uint64(0)
	for {
		if err := wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindGetWeights, Position: pos}); err != nil {
			return "", nil, err
		}
		resp, err := wc.ReadEnvelope()
		if err != nil {
			return "", nil, err
		}
		if resp.Kind == wire.KindErrorResponse {
			return "", nil, fmt.Errorf("master: %s", resp.Message)
		}
		data = append(data, resp.Buffer...)
		version = resp.Version
		pos += uint64(len(resp.Buffer))
		if resp.Complete {
			return version, data, nil
		}
	}
}

// pushChunkSize is kept below wire.MaxChunkSize to leave the envelope
// room for its version token and completion flag alongside the buffer;
// see master.ChunkSize for the matching constraint on the other side.
const pushChunkSize = wire.MaxChunkSize - 4096

// push streams delta to the master as an UpdWeights request tagged with
// version, chunked to pushChunkSize, and reports whether the master
// rejected it for a stale version.
func (w *Worker) push(version string, delta []byte) (mismatch bool, err error) {
	conn, err := net.Dial("tcp", w.cfg.MasterAddr)
	if err != nil {
		return false, fmt.Errorf("dialing master: %w", err)
	}
	defer conn.Close()
	wc := wire.NewConn(conn)

	for pos := 0; ; pos += pushChunkSize {
		end := pos + pushChunkSize
		complete := end >= len(delta)
		if complete {
			end = len(delta)
		}
		req := &wire.Envelope{
			Kind:       wire.KindUpdWeights,
			HasVersion: true,
			Version:    version,
			Buffer:     delta[pos:end],
			Complete:   complete,
		}
		if err := wc.WriteEnvelope(req); err != nil {
			return false, err
		}
		resp, err := wc.ReadEnvelope()
		if err != nil {
			return false, err
		}
		if resp.Kind == wire.KindErrorResponse {
			return true, nil
		}
		if complete {
			return false, nil
		}
	}
}
