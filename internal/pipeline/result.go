package pipeline

import (
	"time"

	"github.com/avolkov/cryptoflow/internal/crypto"
	"github.com/avolkov/cryptoflow/internal/schedule"
)

// FileResult is the per-file outcome of a batch. Exactly one of the payload
// fields is populated: Container/Record after encryption, Plaintext after
// decryption. A failed file carries Err and Kind and no payload.
type FileResult struct {
	FileID    string
	Name      string
	Mode      crypto.Mode
	Container *crypto.Container
	Record    *crypto.WrappedKeyRecord
	Plaintext []byte
	Elapsed   time.Duration
	Err       error
	Kind      FailureKind
}

// Failed reports whether this file's operation failed.
func (r *FileResult) Failed() bool { return r.Err != nil }

// BatchResult is the outcome of one EncryptBatch or DecryptBatch call.
// Results appear in dispatch order, which for encryption is the scheduled
// order.
type BatchResult struct {
	Session   string
	Operation string
	Policy    schedule.Policy
	Elapsed   time.Duration
	Results   []FileResult
}

// Result returns the result for a file id, or nil if the batch never
// dispatched it.
func (b *BatchResult) Result(fileID string) *FileResult {
	for i := range b.Results {
		if b.Results[i].FileID == fileID {
			return &b.Results[i]
		}
	}
	return nil
}

// Failures returns the failed subset of the batch.
func (b *BatchResult) Failures() []*FileResult {
	var out []*FileResult
	for i := range b.Results {
		if b.Results[i].Failed() {
			out = append(out, &b.Results[i])
		}
	}
	return out
}
