// Package tune calibrates the pipeline's parallelism parameters once per
// process: it benchmarks a small grid of (worker count, chunk size)
// candidates against a synthetic buffer and caches the winner.
package tune

import (
	"context"
	"crypto/rand"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/cryptoflow/internal/crypto"
)

// TunedConfig is the process-lifetime result of one calibration run.
type TunedConfig struct {
	Workers    int
	ChunkSize  int
	MeasuredAt time.Time
}

// Options bounds the calibration. Fixed values from configuration bypass
// the corresponding dimension of the search.
type Options struct {
	MinChunkSize   int
	MaxChunkSize   int
	SampleSize     int // synthetic buffer size
	FixedWorkers   int // 0 = search
	FixedChunkSize int // 0 = search
}

// Tuner runs calibration at most once, no matter how many goroutines ask
// for the config concurrently; every caller observes the same result.
type Tuner struct {
	opts Options
	log  *logrus.Logger

	once sync.Once
	cfg  TunedConfig
	err  error
}

// NewTuner creates a tuner. Calibration is lazy: nothing runs until the
// first Config call.
func NewTuner(opts Options, logger *logrus.Logger) *Tuner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tuner{opts: opts, log: logger}
}

// Config returns the tuned configuration, calibrating on first use.
func (t *Tuner) Config() (TunedConfig, error) {
	t.once.Do(t.calibrate)
	return t.cfg, t.err
}

func (t *Tuner) calibrate() {
	start := time.Now()
	cores := logicalCores()

	workers := t.opts.FixedWorkers
	if workers > cores {
		workers = cores
	}
	chunkSize := clampChunk(t.opts.FixedChunkSize, t.opts.MinChunkSize, t.maxChunkCeiling(cores))

	if t.opts.FixedWorkers > 0 && t.opts.FixedChunkSize > 0 {
		t.cfg = TunedConfig{Workers: workers, ChunkSize: chunkSize, MeasuredAt: start}
		t.log.WithFields(logrus.Fields{
			"workers":    workers,
			"chunk_size": chunkSize,
		}).Info("Using fixed pipeline parameters, skipping calibration")
		return
	}

	sample := make([]byte, t.opts.SampleSize)
	if _, err := rand.Read(sample); err != nil {
		t.err = err
		return
	}
	key, err := crypto.NewDataKey(crypto.ModeGCM)
	if err != nil {
		t.err = err
		return
	}

	workerCandidates := t.workerCandidates(cores)
	chunkCandidates := t.chunkCandidates(cores)

	best := TunedConfig{Workers: cores, ChunkSize: chunkCandidates[0], MeasuredAt: start}
	bestThroughput := -1.0

	for _, w := range workerCandidates {
		for _, c := range chunkCandidates {
			throughput, err := t.trial(sample, key, w, c)
			if err != nil {
				t.log.WithError(err).WithFields(logrus.Fields{
					"workers":    w,
					"chunk_size": c,
				}).Warn("Calibration trial failed")
				continue
			}
			if throughput > bestThroughput {
				bestThroughput = throughput
				best = TunedConfig{Workers: w, ChunkSize: c, MeasuredAt: start}
			}
		}
	}

	t.cfg = best
	t.log.WithFields(logrus.Fields{
		"workers":     best.Workers,
		"chunk_size":  best.ChunkSize,
		"cores":       cores,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Calibration complete")
}

// trial encrypts the sample once with the candidate parameters and returns
// the achieved throughput in bytes per second.
func (t *Tuner) trial(sample, key []byte, workers, chunkSize int) (float64, error) {
	pool := crypto.NewWorkerPool(workers)
	defer pool.Close()

	engine := crypto.NewEngine(pool, 0, t.log)

	start := time.Now()
	if _, err := engine.Encrypt(context.Background(), "calibration", sample, key, crypto.ModeGCM, chunkSize); err != nil {
		return 0, err
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	return float64(len(sample)) / elapsed, nil
}

// workerCandidates is {1, cores/2, cores}, deduplicated, never exceeding
// the logical core count: oversubscribing CPU-bound cipher work only adds
// scheduler churn.
func (t *Tuner) workerCandidates(cores int) []int {
	if t.opts.FixedWorkers > 0 {
		w := t.opts.FixedWorkers
		if w > cores {
			w = cores
		}
		return []int{w}
	}

	seen := map[int]bool{}
	var out []int
	for _, w := range []int{1, cores / 2, cores} {
		if w < 1 {
			w = 1
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func (t *Tuner) chunkCandidates(cores int) []int {
	ceiling := t.maxChunkCeiling(cores)

	if t.opts.FixedChunkSize > 0 {
		return []int{clampChunk(t.opts.FixedChunkSize, t.opts.MinChunkSize, ceiling)}
	}

	seen := map[int]bool{}
	var out []int
	for _, c := range []int{t.opts.SampleSize / 16, t.opts.SampleSize / 4, t.opts.SampleSize} {
		c = clampChunk(c, t.opts.MinChunkSize, ceiling)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// maxChunkCeiling lowers the configured chunk ceiling when available memory
// is tight: each in-flight chunk buffers roughly one chunk of plaintext and
// one of ciphertext per worker.
func (t *Tuner) maxChunkCeiling(cores int) int {
	ceiling := t.opts.MaxChunkSize

	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return ceiling
	}

	perWorker := vm.Available / uint64(4*cores)
	if perWorker < uint64(ceiling) && perWorker >= uint64(t.opts.MinChunkSize) {
		ceiling = int(perWorker)
	}
	return ceiling
}

func clampChunk(c, min, max int) int {
	if c < min {
		c = min
	}
	if c > max {
		c = max
	}
	return c
}

// logicalCores probes the host's logical core count, falling back to the
// runtime's view when the probe fails.
func logicalCores() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ElasticChunkSize picks a per-file chunk size that yields roughly four
// chunks per worker, so the pool stays saturated without ballooning
// per-chunk overhead. The result is clamped to [min, max] and rounded down
// to the AES block size; it stays fixed for the whole of that file's run.
func ElasticChunkSize(fileSize int64, workers, min, max int) int {
	if fileSize <= 0 {
		return min
	}

	target := int64(workers * 4)
	ideal := fileSize / target
	if ideal < int64(min) {
		ideal = int64(min)
	}
	if ideal > int64(max) {
		ideal = int64(max)
	}

	size := int(ideal)
	size -= size % 16
	if size < 16 {
		size = 16
	}
	return size
}
