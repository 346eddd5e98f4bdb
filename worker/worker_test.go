package worker

import (
	"net"
	"testing"

	"github.com/muchq/tensorgraph/codec"
	"github.com/muchq/tensorgraph/master"
	"github.com/muchq/tensorgraph/tensor"
	"github.com/muchq/tensorgraph/wire"
	"github.com/stretchr/testify/require"
)

// fakeTrainable is a minimal training.Trainable double that records its
// calls instead of running any real graph computation.
type fakeTrainable struct {
	setWeightsCalls int
	lastSetWeights  []byte
	batchTrainCalls int
	update          []byte
}

func (f *fakeTrainable) GetWeights() ([]byte, error) { return f.lastSetWeights, nil }

func (f *fakeTrainable) SetWeights(data []byte) error {
	f.setWeightsCalls++
	f.lastSetWeights = append([]byte(nil), data...)
	return nil
}

func (f *fakeTrainable) GetUpdate() ([]byte, error) { return f.update, nil }

func (f *fakeTrainable) UpdWeights(data []byte) error { return nil }

func (f *fakeTrainable) BatchTrain() (float64, error) {
	f.batchTrainCalls++
	return 0.5, nil
}

func startTestMaster(t *testing.T) (*master.Master, string) {
	t.Helper()
	m, err := master.New("")
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go m.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return m, ln.Addr().String()
}

func encodeWeights(t *tensor.Tensor) []byte {
	w := codec.NewWriter()
	w.WriteInt(1)
	w.WriteTensor(t)
	return w.Bytes()
}

func TestPullReturnsCurrentWeightsAndVersion(t *testing.T) {
	m, addr := startTestMaster(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	wc := wire.NewConn(conn)
	buf := encodeWeights(tensor.FromData([]float64{1, 2, 3, 4}, 2, 2))
	require.NoError(t, wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindSetWeights, Buffer: buf, Complete: true}))
	setResp, err := wc.ReadEnvelope()
	require.NoError(t, err)
	conn.Close()

	w := New(Config{MasterAddr: addr}, nil)
	version, data, err := w.pull()
	require.NoError(t, err)
	require.Equal(t, setResp.Version, version)
	require.Equal(t, buf, data)
	require.Equal(t, buf, m.Weights())
}

func TestPushDeliversDeltaUnderCurrentVersion(t *testing.T) {
	m, addr := startTestMaster(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	wc := wire.NewConn(conn)
	initial := encodeWeights(tensor.New(2, 2))
	require.NoError(t, wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindSetWeights, Buffer: initial, Complete: true}))
	setResp, err := wc.ReadEnvelope()
	require.NoError(t, err)
	conn.Close()

	w := New(Config{MasterAddr: addr}, nil)
	delta := encodeWeights(tensor.FromData([]float64{1, 1, 1, 1}, 2, 2))
	mismatch, err := w.push(setResp.Version, delta)
	require.NoError(t, err)
	require.False(t, mismatch)

	want := encodeWeights(tensor.FromData([]float64{1, 1, 1, 1}, 2, 2))
	require.Equal(t, want, m.Weights())
}

func TestPushReportsVersionMismatch(t *testing.T) {
	_, addr := startTestMaster(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	wc := wire.NewConn(conn)
	initial := encodeWeights(tensor.New(2, 2))
	require.NoError(t, wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindSetWeights, Buffer: initial, Complete: true}))
	_, err = wc.ReadEnvelope()
	require.NoError(t, err)
	conn.Close()

	w := New(Config{MasterAddr: addr}, nil)
	delta := encodeWeights(tensor.FromData([]float64{1, 1, 1, 1}, 2, 2))
	mismatch, err := w.push("bogus-version", delta)
	require.NoError(t, err)
	require.True(t, mismatch)
}

func TestCyclePullsTrainsAndPushesDelta(t *testing.T) {
	_, addr := startTestMaster(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	wc := wire.NewConn(conn)
	initial := encodeWeights(tensor.New(2, 2))
	require.NoError(t, wc.WriteEnvelope(&wire.Envelope{Kind: wire.KindSetWeights, Buffer: initial, Complete: true}))
	_, err = wc.ReadEnvelope()
	require.NoError(t, err)
	conn.Close()

	fake := &fakeTrainable{update: encodeWeights(tensor.FromData([]float64{1, 1, 1, 1}, 2, 2))}
	w := New(Config{MasterAddr: addr, BatchesPerCycle: 3}, nil)

	require.NoError(t, w.cycle(fake))
	require.Equal(t, 1, fake.setWeightsCalls)
	require.Equal(t, 3, fake.batchTrainCalls)
	require.Equal(t, initial, fake.lastSetWeights)
}

func TestDefaultsFillInZeroConfig(t *testing.T) {
	w := New(Config{MasterAddr: "127.0.0.1:0"}, nil)
	require.Greater(t, w.cfg.NumThreads, 0)
	require.Equal(t, 1, w.cfg.BatchesPerCycle)
}
