package pipeline

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/cryptoflow/internal/config"
	"github.com/avolkov/cryptoflow/internal/crypto"
	"github.com/avolkov/cryptoflow/internal/keystore"
	"github.com/avolkov/cryptoflow/internal/schedule"
	"github.com/avolkov/cryptoflow/internal/tune"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestOrchestrator(t *testing.T, provider ContentProvider, sink TimingSink) *Orchestrator {
	t.Helper()

	store, err := keystore.OpenInMemory(quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tuner := tune.NewTuner(tune.Options{
		MinChunkSize:   256,
		MaxChunkSize:   1 << 20,
		SampleSize:     4096,
		FixedWorkers:   2,
		FixedChunkSize: 1024,
	}, quietLogger())

	pcfg := config.PipelineConfig{
		MinChunkSize:    256,
		MaxChunkSize:    1 << 20,
		StreamThreshold: 512,
	}
	kcfg := config.KeysConfig{Iterations: config.MinIterations}

	return NewOrchestrator(provider, store, tuner, sink, pcfg, kcfg, quietLogger())
}

func patternContent(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func decryptItems(batch *BatchResult) []DecryptItem {
	items := make([]DecryptItem, 0, len(batch.Results))
	for i := range batch.Results {
		r := &batch.Results[i]
		items = append(items, DecryptItem{FileID: r.FileID, Name: r.Name, Container: r.Container})
	}
	return items
}

func TestEncryptDecryptBatchRoundTrip(t *testing.T) {
	for _, mode := range []crypto.Mode{crypto.ModeGCM, crypto.ModeCTR, crypto.ModeCBC} {
		t.Run(mode.String(), func(t *testing.T) {
			contents := map[string][]byte{
				"small": patternContent(100),
				"large": patternContent(5000),
				"empty": {},
			}
			orch := newTestOrchestrator(t, MapProvider(contents), nil)

			jobs := []JobSpec{
				{ID: "small", Name: "small.txt"},
				{ID: "large", Name: "large.bin"},
				{ID: "empty", Name: "empty.txt"},
			}

			enc, err := orch.EncryptBatch(context.Background(), "s1", jobs, "hunter2-hunter2", mode, schedule.PolicyPriority)
			require.NoError(t, err)
			require.Empty(t, enc.Failures())
			require.Len(t, enc.Results, 3)

			for i := range enc.Results {
				r := &enc.Results[i]
				require.NotNil(t, r.Container, "file %s missing container", r.FileID)
				require.NotNil(t, r.Record, "file %s missing key record", r.FileID)
				assert.Nil(t, r.Plaintext)
				if len(contents[r.FileID]) > 0 {
					assert.NotEqual(t, contents[r.FileID], r.Container.Ciphertext)
				}
			}

			dec, err := orch.DecryptBatch(context.Background(), "s1", decryptItems(enc), "hunter2-hunter2")
			require.NoError(t, err)
			require.Empty(t, dec.Failures())

			for id, want := range contents {
				r := dec.Result(id)
				require.NotNil(t, r, "no result for %s", id)
				assert.True(t, bytes.Equal(r.Plaintext, want), "round trip mismatch for %s", id)
			}
		})
	}
}

func TestPrioritySchedulingDispatchesCheapestFirst(t *testing.T) {
	contents := map[string][]byte{
		"f100": patternContent(100),
		"f500": patternContent(500),
		"f10":  patternContent(10),
		"f50":  patternContent(50),
	}
	jobs := []JobSpec{
		{ID: "f100", Name: "f100"},
		{ID: "f500", Name: "f500"},
		{ID: "f10", Name: "f10"},
		{ID: "f50", Name: "f50"},
	}

	orch := newTestOrchestrator(t, MapProvider(contents), nil)

	enc, err := orch.EncryptBatch(context.Background(), "s-prio", jobs, "pw-pw-pw", crypto.ModeGCM, schedule.PolicyPriority)
	require.NoError(t, err)

	var order []string
	for i := range enc.Results {
		order = append(order, enc.Results[i].FileID)
	}
	assert.Equal(t, []string{"f10", "f50", "f100", "f500"}, order)

	enc, err = orch.EncryptBatch(context.Background(), "s-fifo", jobs, "pw-pw-pw", crypto.ModeGCM, schedule.PolicyFIFO)
	require.NoError(t, err)

	order = order[:0]
	for i := range enc.Results {
		order = append(order, enc.Results[i].FileID)
	}
	assert.Equal(t, []string{"f100", "f500", "f10", "f50"}, order)
}

func TestDecryptWrongPasswordFailsClosed(t *testing.T) {
	contents := map[string][]byte{
		"a": patternContent(1000),
		"b": patternContent(2000),
	}
	orch := newTestOrchestrator(t, MapProvider(contents), nil)

	jobs := []JobSpec{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}}
	enc, err := orch.EncryptBatch(context.Background(), "s1", jobs, "right-password", crypto.ModeGCM, schedule.PolicyFIFO)
	require.NoError(t, err)
	require.Empty(t, enc.Failures())

	dec, err := orch.DecryptBatch(context.Background(), "s1", decryptItems(enc), "wrong-password")
	require.NoError(t, err)

	require.Len(t, dec.Failures(), 2)
	for i := range dec.Results {
		r := &dec.Results[i]
		assert.ErrorIs(t, r.Err, crypto.ErrAuthentication)
		assert.Equal(t, FailureAuthentication, r.Kind)
		assert.Nil(t, r.Plaintext, "no plaintext may leak on authentication failure")
	}

	// The records survive the failed attempt: the right password still works.
	dec, err = orch.DecryptBatch(context.Background(), "s1", decryptItems(enc), "right-password")
	require.NoError(t, err)
	assert.Empty(t, dec.Failures())
}

func TestTamperedFileFailsAlone(t *testing.T) {
	contents := map[string][]byte{
		"good": patternContent(3000),
		"bad":  patternContent(3000),
	}
	orch := newTestOrchestrator(t, MapProvider(contents), nil)

	jobs := []JobSpec{{ID: "good", Name: "good"}, {ID: "bad", Name: "bad"}}
	enc, err := orch.EncryptBatch(context.Background(), "s1", jobs, "pw-pw-pw", crypto.ModeGCM, schedule.PolicyFIFO)
	require.NoError(t, err)
	require.Empty(t, enc.Failures())

	enc.Result("bad").Container.Ciphertext[100] ^= 0x01

	dec, err := orch.DecryptBatch(context.Background(), "s1", decryptItems(enc), "pw-pw-pw")
	require.NoError(t, err)

	bad := dec.Result("bad")
	require.NotNil(t, bad)
	assert.ErrorIs(t, bad.Err, crypto.ErrAuthentication)
	assert.Nil(t, bad.Plaintext)

	good := dec.Result("good")
	require.NotNil(t, good)
	require.False(t, good.Failed(), "healthy sibling must not be affected")
	assert.True(t, bytes.Equal(good.Plaintext, contents["good"]))
}

func TestUnreadableFileFailsAlone(t *testing.T) {
	contents := map[string][]byte{"present": patternContent(500)}
	orch := newTestOrchestrator(t, MapProvider(contents), nil)

	jobs := []JobSpec{{ID: "present", Name: "present"}, {ID: "missing", Name: "missing"}}
	enc, err := orch.EncryptBatch(context.Background(), "s1", jobs, "pw-pw-pw", crypto.ModeGCM, schedule.PolicyFIFO)
	require.NoError(t, err)

	missing := enc.Result("missing")
	require.NotNil(t, missing)
	assert.True(t, missing.Failed())
	assert.Equal(t, FailureTransientIO, missing.Kind)

	present := enc.Result("present")
	require.NotNil(t, present)
	assert.False(t, present.Failed())
}

func TestDecryptMissingRecordFailsFile(t *testing.T) {
	contents := map[string][]byte{"a": patternContent(500)}
	orch := newTestOrchestrator(t, MapProvider(contents), nil)

	jobs := []JobSpec{{ID: "a", Name: "a"}}
	enc, err := orch.EncryptBatch(context.Background(), "s1", jobs, "pw-pw-pw", crypto.ModeGCM, schedule.PolicyFIFO)
	require.NoError(t, err)

	// Looking the record up under the wrong session must fail that file.
	dec, err := orch.DecryptBatch(context.Background(), "other-session", decryptItems(enc), "pw-pw-pw")
	require.NoError(t, err)

	r := dec.Result("a")
	require.NotNil(t, r)
	assert.True(t, r.Failed())
	assert.Equal(t, FailureValidation, r.Kind)
}

func TestBatchValidation(t *testing.T) {
	orch := newTestOrchestrator(t, MapProvider{}, nil)

	_, err := orch.EncryptBatch(context.Background(), "s1", nil, "pw", crypto.ModeGCM, schedule.PolicyFIFO)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = orch.EncryptBatch(context.Background(), "s1", []JobSpec{{ID: "a"}}, "", crypto.ModeGCM, schedule.PolicyFIFO)
	assert.ErrorIs(t, err, ErrMissingPassword)

	_, err = orch.EncryptBatch(context.Background(), "s1", []JobSpec{{ID: "a"}, {ID: "a"}}, "pw", crypto.ModeGCM, schedule.PolicyFIFO)
	assert.Error(t, err)

	_, err = orch.DecryptBatch(context.Background(), "s1", nil, "pw")
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

type recordingSink struct {
	mu      sync.Mutex
	batches []string
	chunks  int
	wraps   int
}

func (s *recordingSink) RecordBatch(op, policy string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, op+"/"+policy)
}

func (s *recordingSink) RecordFileOperation(string, string, string, int64) {}

func (s *recordingSink) RecordChunkTask(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks++
}

func (s *recordingSink) RecordKeyWrap(string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wraps++
}

func TestSinkObservesBatch(t *testing.T) {
	contents := map[string][]byte{"a": patternContent(4000)}
	sink := &recordingSink{}
	orch := newTestOrchestrator(t, MapProvider(contents), sink)

	_, err := orch.EncryptBatch(context.Background(), "s1", []JobSpec{{ID: "a", Name: "a"}}, "pw-pw-pw", crypto.ModeGCM, schedule.PolicyPriority)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"encrypt/priority"}, sink.batches)
	assert.Greater(t, sink.chunks, 0)
	assert.Equal(t, 1, sink.wraps)
}
