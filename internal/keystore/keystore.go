// Package keystore persists wrapped key records in a local badger database.
// Writes are transactional: a reader never observes a partially written
// record.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/avolkov/cryptoflow/internal/crypto"
)

// ErrNotFound is returned when no record exists for a (session, file) pair.
var ErrNotFound = errors.New("wrapped key record not found")

// Store is the persistent key store consumed by the pipeline.
type Store interface {
	// Put writes a record atomically: replace-or-nothing.
	Put(session string, record *crypto.WrappedKeyRecord) error
	// Get loads the record for a file within a session.
	Get(session, fileID string) (*crypto.WrappedKeyRecord, error)
	Close() error
}

// BadgerStore implements Store on top of badger.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens (or creates) a store at the given directory.
func Open(path string, logger *logrus.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty for a CLI

	return open(opts, logger)
}

// OpenInMemory opens an ephemeral store. Used by tests and by runs that do
// not need the key records to outlive the process.
func OpenInMemory(logger *logrus.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return open(opts, logger)
}

func open(opts badger.Options, logger *logrus.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	return &BadgerStore{db: db, log: logger}, nil
}

func recordKey(session, fileID string) []byte {
	return []byte("wkr/" + session + "/" + fileID)
}

// Put writes a record inside one badger transaction.
func (s *BadgerStore) Put(session string, record *crypto.WrappedKeyRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(session, record.FileID), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store key record: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"session": session,
		"file_id": record.FileID,
		"mode":    record.Mode.String(),
	}).Debug("Stored wrapped key record")

	return nil
}

// Get loads and decodes a record.
func (s *BadgerStore) Get(session, fileID string) (*crypto.WrappedKeyRecord, error) {
	var record crypto.WrappedKeyRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(session, fileID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}

	return &record, nil
}

// Close flushes and closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
