// Package pipeline drives batches of files through profiling, scheduling,
// envelope key management and the chunked cipher engine. A batch shares one
// worker pool; per-file failures are isolated so one corrupted or unreadable
// file never aborts its siblings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/avolkov/cryptoflow/internal/config"
	"github.com/avolkov/cryptoflow/internal/crypto"
	"github.com/avolkov/cryptoflow/internal/keystore"
	"github.com/avolkov/cryptoflow/internal/profile"
	"github.com/avolkov/cryptoflow/internal/schedule"
	"github.com/avolkov/cryptoflow/internal/tune"
)

// JobSpec names one file of an encryption batch. Content is fetched from
// the provider by id.
type JobSpec struct {
	ID   string
	Name string
}

// DecryptItem names one file of a decryption batch together with its
// ciphertext container. The wrapped key record is looked up in the store.
type DecryptItem struct {
	FileID    string
	Name      string
	Container *crypto.Container
}

// TimingSink receives batch timings and operation counts. It is purely
// observational: a sink never influences scheduling or outcomes.
type TimingSink interface {
	RecordBatch(operation, policy string, elapsed time.Duration)
	RecordFileOperation(operation, mode, status string, bytes int64)
	RecordChunkTask(operation string)
	RecordKeyWrap(operation, status string)
}

type noopSink struct{}

func (noopSink) RecordBatch(string, string, time.Duration)         {}
func (noopSink) RecordFileOperation(string, string, string, int64) {}
func (noopSink) RecordChunkTask(string)                            {}
func (noopSink) RecordKeyWrap(string, string)                      {}

// Orchestrator coordinates one batch at a time over long-lived
// collaborators. It is safe to run batches from multiple goroutines; the
// tuner guarantees they all see the same calibrated parameters.
type Orchestrator struct {
	provider ContentProvider
	store    keystore.Store
	tuner    *tune.Tuner
	sink     TimingSink
	log      *logrus.Logger
	tracer   trace.Tracer

	streamThreshold int64
	minChunkSize    int
	maxChunkSize    int
	iterations      int
}

// NewOrchestrator wires a pipeline from its collaborators. A nil sink
// disables timing collection.
func NewOrchestrator(provider ContentProvider, store keystore.Store, tuner *tune.Tuner, sink TimingSink, pcfg config.PipelineConfig, kcfg config.KeysConfig, logger *logrus.Logger) *Orchestrator {
	if sink == nil {
		sink = noopSink{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		provider:        provider,
		store:           store,
		tuner:           tuner,
		sink:            sink,
		log:             logger,
		tracer:          otel.Tracer("cryptoflow/pipeline"),
		streamThreshold: pcfg.StreamThreshold,
		minChunkSize:    pcfg.MinChunkSize,
		maxChunkSize:    pcfg.MaxChunkSize,
		iterations:      kcfg.Iterations,
	}
}

// EncryptBatch encrypts a batch of files under one password. Content is
// read and profiled, files are ordered by the scheduling policy, every data
// key is wrapped and persisted up front, and only then does cipher work
// start; the master key is scrubbed before the first chunk is encrypted.
func (o *Orchestrator) EncryptBatch(ctx context.Context, session string, jobs []JobSpec, password string, mode crypto.Mode, policy schedule.Policy) (*BatchResult, error) {
	if password == "" {
		return nil, ErrMissingPassword
	}
	if len(jobs) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := checkDuplicateIDs(jobs); err != nil {
		return nil, err
	}

	tuned, err := o.tuner.Config()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapacity, err)
	}

	ctx, span := o.tracer.Start(ctx, "encrypt_batch", trace.WithAttributes(
		attribute.String("session", session),
		attribute.String("policy", string(policy)),
		attribute.String("mode", mode.String()),
		attribute.Int("file_count", len(jobs)),
	))
	defer span.End()

	start := time.Now()
	batch := &BatchResult{Session: session, Operation: "encrypt", Policy: policy}

	// Read and profile. A failed read is retried once; a file that still
	// cannot be read fails alone and is excluded from scheduling.
	contents := make(map[string][]byte, len(jobs))
	names := make(map[string]string, len(jobs))
	schedJobs := make([]schedule.Job, 0, len(jobs))
	for _, j := range jobs {
		names[j.ID] = j.Name
		data, err := o.readWithRetry(ctx, j.ID)
		if err != nil {
			o.log.WithError(err).WithField("file_id", j.ID).Error("Failed to read file content")
			batch.Results = append(batch.Results, FileResult{
				FileID: j.ID, Name: j.Name, Mode: mode, Err: err, Kind: classify(err),
			})
			o.sink.RecordFileOperation("encrypt", mode.String(), "failure", 0)
			continue
		}
		contents[j.ID] = data
		p := profile.Measure(data)
		schedJobs = append(schedJobs, schedule.Job{ID: j.ID, Size: p.Size, Cost: p.Cost})
	}

	entries := schedule.Plan(schedJobs, policy)

	// Derive the master key and wrap every data key before any cipher work
	// is dispatched. Once the last record is persisted the master key is
	// scrubbed; chunk encryption only ever sees per-file data keys.
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	master, err := crypto.DeriveMasterKey(password, salt, o.iterations)
	if err != nil {
		return nil, err
	}

	dataKeys := make(map[string][]byte, len(entries))
	records := make(map[string]*crypto.WrappedKeyRecord, len(entries))
	dispatch := entries[:0:0]
	for _, entry := range entries {
		dataKey, err := crypto.NewDataKey(mode)
		if err == nil {
			var record *crypto.WrappedKeyRecord
			record, err = master.Wrap(entry.Job.ID, dataKey, mode)
			if err == nil {
				err = o.putWithRetry(session, record)
			}
			if err == nil {
				dataKeys[entry.Job.ID] = dataKey
				records[entry.Job.ID] = record
				dispatch = append(dispatch, entry)
				o.sink.RecordKeyWrap("wrap", "success")
				continue
			}
			crypto.ZeroBytes(dataKey)
		}
		o.sink.RecordKeyWrap("wrap", "failure")
		o.log.WithError(err).WithField("file_id", entry.Job.ID).Error("Failed to wrap data key")
		batch.Results = append(batch.Results, FileResult{
			FileID: entry.Job.ID, Name: names[entry.Job.ID], Mode: mode, Err: err, Kind: classify(err),
		})
		o.sink.RecordFileOperation("encrypt", mode.String(), "failure", 0)
	}
	master.Zero()

	pool := crypto.NewWorkerPool(tuned.Workers)
	defer pool.Close()
	engine := crypto.NewEngine(pool, o.streamThreshold, o.log)
	engine.SetChunkTrace(func(ev crypto.ChunkEvent) {
		if ev.Done {
			o.sink.RecordChunkTask(ev.Op)
		}
	})

	results := make([]FileResult, len(dispatch))
	var g errgroup.Group
	for i, entry := range dispatch {
		i, entry := i, entry
		g.Go(func() error {
			fileCtx, fileSpan := o.tracer.Start(ctx, "encrypt_file", trace.WithAttributes(
				attribute.String("file_id", entry.Job.ID),
				attribute.Int64("size", entry.Job.Size),
				attribute.Int("rank", entry.Rank),
			))
			defer fileSpan.End()

			fileStart := time.Now()
			content := contents[entry.Job.ID]
			chunkSize := tune.ElasticChunkSize(entry.Job.Size, tuned.Workers, o.minChunkSize, tuned.ChunkSize)

			container, err := engine.Encrypt(fileCtx, entry.Job.ID, content, dataKeys[entry.Job.ID], mode, chunkSize)
			crypto.ZeroBytes(dataKeys[entry.Job.ID])

			r := FileResult{
				FileID:  entry.Job.ID,
				Name:    names[entry.Job.ID],
				Mode:    mode,
				Elapsed: time.Since(fileStart),
			}
			if err != nil {
				r.Err = err
				r.Kind = classify(err)
				fileSpan.RecordError(err)
				o.log.WithError(err).WithField("file_id", entry.Job.ID).Error("File encryption failed")
				o.sink.RecordFileOperation("encrypt", mode.String(), "failure", 0)
			} else {
				r.Container = container
				r.Record = records[entry.Job.ID]
				o.sink.RecordFileOperation("encrypt", mode.String(), "success", entry.Job.Size)
			}
			results[i] = r
			return nil
		})
	}
	g.Wait()

	batch.Results = append(batch.Results, results...)
	batch.Elapsed = time.Since(start)
	o.sink.RecordBatch("encrypt", string(policy), batch.Elapsed)

	o.log.WithFields(logrus.Fields{
		"session":    session,
		"policy":     policy,
		"mode":       mode.String(),
		"files":      len(jobs),
		"failures":   len(batch.Failures()),
		"elapsed_ms": batch.Elapsed.Milliseconds(),
	}).Info("Encryption batch complete")

	return batch, nil
}

// DecryptBatch decrypts a batch of containers under one password. Files are
// dispatched in submission order. Every data key is unwrapped before cipher
// work starts and the derived master keys are scrubbed in between; a file
// whose record fails authentication, or whose ciphertext fails verification,
// fails alone with no plaintext.
func (o *Orchestrator) DecryptBatch(ctx context.Context, session string, items []DecryptItem, password string) (*BatchResult, error) {
	if password == "" {
		return nil, ErrMissingPassword
	}
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}

	tuned, err := o.tuner.Config()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapacity, err)
	}

	ctx, span := o.tracer.Start(ctx, "decrypt_batch", trace.WithAttributes(
		attribute.String("session", session),
		attribute.Int("file_count", len(items)),
	))
	defer span.End()

	start := time.Now()
	batch := &BatchResult{Session: session, Operation: "decrypt", Policy: schedule.PolicyFIFO}

	// Unwrap every data key up front. Master keys are derived once per
	// distinct (salt, iterations) pair and scrubbed before cipher work.
	masters := make(map[string]*crypto.MasterKey)
	masterFor := func(rec *crypto.WrappedKeyRecord) (*crypto.MasterKey, error) {
		cacheKey := string(rec.Salt) + "/" + strconv.Itoa(rec.Iterations)
		if mk, ok := masters[cacheKey]; ok {
			return mk, nil
		}
		mk, err := crypto.DeriveMasterKey(password, rec.Salt, rec.Iterations)
		if err != nil {
			return nil, err
		}
		masters[cacheKey] = mk
		return mk, nil
	}

	dataKeys := make(map[string][]byte, len(items))
	var dispatch []DecryptItem
	for _, item := range items {
		record, err := o.getWithRetry(session, item.FileID)
		if err == nil {
			var mk *crypto.MasterKey
			mk, err = masterFor(record)
			if err == nil {
				var dataKey []byte
				dataKey, err = mk.Unwrap(record)
				if err == nil {
					dataKeys[item.FileID] = dataKey
					dispatch = append(dispatch, item)
					o.sink.RecordKeyWrap("unwrap", "success")
					continue
				}
			}
		}
		o.sink.RecordKeyWrap("unwrap", "failure")
		o.log.WithError(err).WithField("file_id", item.FileID).Warn("Failed to unwrap data key")
		batch.Results = append(batch.Results, FileResult{
			FileID: item.FileID, Name: item.Name, Err: err, Kind: classify(err),
		})
		o.sink.RecordFileOperation("decrypt", "unknown", "failure", 0)
	}
	for _, mk := range masters {
		mk.Zero()
	}

	pool := crypto.NewWorkerPool(tuned.Workers)
	defer pool.Close()
	engine := crypto.NewEngine(pool, o.streamThreshold, o.log)
	engine.SetChunkTrace(func(ev crypto.ChunkEvent) {
		if ev.Done {
			o.sink.RecordChunkTask(ev.Op)
		}
	})

	results := make([]FileResult, len(dispatch))
	var g errgroup.Group
	for i, item := range dispatch {
		i, item := i, item
		g.Go(func() error {
			fileCtx, fileSpan := o.tracer.Start(ctx, "decrypt_file", trace.WithAttributes(
				attribute.String("file_id", item.FileID),
				attribute.Int64("size", item.Container.OriginalSize),
			))
			defer fileSpan.End()

			fileStart := time.Now()
			plaintext, err := engine.Decrypt(fileCtx, item.FileID, item.Container, dataKeys[item.FileID])
			crypto.ZeroBytes(dataKeys[item.FileID])

			r := FileResult{
				FileID:  item.FileID,
				Name:    item.Name,
				Mode:    item.Container.Mode,
				Elapsed: time.Since(fileStart),
			}
			if err != nil {
				r.Err = err
				r.Kind = classify(err)
				fileSpan.RecordError(err)
				o.log.WithError(err).WithField("file_id", item.FileID).Warn("File decryption failed")
				o.sink.RecordFileOperation("decrypt", item.Container.Mode.String(), "failure", 0)
			} else {
				r.Plaintext = plaintext
				o.sink.RecordFileOperation("decrypt", item.Container.Mode.String(), "success", item.Container.OriginalSize)
			}
			results[i] = r
			return nil
		})
	}
	g.Wait()

	batch.Results = append(batch.Results, results...)
	batch.Elapsed = time.Since(start)
	o.sink.RecordBatch("decrypt", string(batch.Policy), batch.Elapsed)

	o.log.WithFields(logrus.Fields{
		"session":    session,
		"files":      len(items),
		"failures":   len(batch.Failures()),
		"elapsed_ms": batch.Elapsed.Milliseconds(),
	}).Info("Decryption batch complete")

	return batch, nil
}

// readWithRetry retries a failed content read once before giving up.
func (o *Orchestrator) readWithRetry(ctx context.Context, id string) ([]byte, error) {
	data, err := o.provider.Read(ctx, id)
	if err == nil {
		return data, nil
	}
	return o.provider.Read(ctx, id)
}

// putWithRetry retries a failed record write once before giving up.
func (o *Orchestrator) putWithRetry(session string, record *crypto.WrappedKeyRecord) error {
	if err := o.store.Put(session, record); err == nil {
		return nil
	}
	return o.store.Put(session, record)
}

// getWithRetry retries a failed record load once, except for a clean miss.
func (o *Orchestrator) getWithRetry(session, fileID string) (*crypto.WrappedKeyRecord, error) {
	record, err := o.store.Get(session, fileID)
	if err == nil || errors.Is(err, keystore.ErrNotFound) {
		return record, err
	}
	return o.store.Get(session, fileID)
}

func checkDuplicateIDs(jobs []JobSpec) error {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.ID] {
			return fmt.Errorf("validation failed: duplicate file id %q", j.ID)
		}
		seen[j.ID] = true
	}
	return nil
}
