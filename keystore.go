package prism

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const (
	recordsDirName = "records"
	filePerms      = 0o600
	dirPerms       = 0o700
)

// UserRecord is what a node keeps per key id after Commit.
type UserRecord struct {
	KeyID       string   `cbor:"1,keyasint"`
	CVK         []byte   `cbor:"2,keyasint"`
	Prism       []byte   `cbor:"3,keyasint,omitempty"`
	PrismAuth   []byte   `cbor:"4,keyasint,omitempty"`
	Commitments [][]byte `cbor:"5,keyasint"`
	Timestamp   int64    `cbor:"6,keyasint"`
}

// KeyStore persists finalized keys. Get returns ErrNotFound for unknown ids.
type KeyStore interface {
	PersistFinalizedKey(ctx context.Context, record *UserRecord) error
	Get(ctx context.Context, keyID string) (*UserRecord, error)
}

// MemoryKeyStore keeps records in memory
type MemoryKeyStore struct {
	mu      sync.RWMutex
	records map[string]*UserRecord
}

// NewMemoryKeyStore creates an empty in-memory store
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{records: make(map[string]*UserRecord)}
}

func (s *MemoryKeyStore) PersistFinalizedKey(ctx context.Context, record *UserRecord) error {
	if record == nil || record.KeyID == "" {
		return ErrInvalidRequest.WithDetails("record requires a key id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.KeyID] = cloneRecord(record)
	return nil
}

func (s *MemoryKeyStore) Get(ctx context.Context, keyID string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[keyID]
	if !ok {
		return nil, ErrNotFound.WithContext("key_id", keyID)
	}
	return cloneRecord(r), nil
}

func cloneRecord(r *UserRecord) *UserRecord {
	c := *r
	c.CVK = append([]byte(nil), r.CVK...)
	c.Prism = append([]byte(nil), r.Prism...)
	c.PrismAuth = append([]byte(nil), r.PrismAuth...)
	c.Commitments = make([][]byte, len(r.Commitments))
	for i, p := range r.Commitments {
		c.Commitments[i] = append([]byte(nil), p...)
	}
	return &c
}

// FileKeyStore stores one sealed CBOR record per key id under dir/records.
type FileKeyStore struct {
	dir string
	key []byte
	mu  sync.Mutex
}

// NewFileKeyStore creates the records directory. key is a 32-byte envelope key.
func NewFileKeyStore(homeDir string, key []byte) (*FileKeyStore, error) {
	if homeDir == "" {
		return nil, errors.New("home directory cannot be empty")
	}
	if len(key) != EnvelopeKeySize {
		return nil, fmt.Errorf("record key must be %d bytes", EnvelopeKeySize)
	}

	dir := filepath.Join(homeDir, recordsDirName)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}
	return &FileKeyStore{dir: dir, key: append([]byte(nil), key...)}, nil
}

func (s *FileKeyStore) path(keyID string) (string, error) {
	if keyID == "" || strings.ContainsAny(keyID, `/\`) || strings.Contains(keyID, "..") {
		return "", ErrInvalidRequest.WithDetails("key id contains invalid characters")
	}
	return filepath.Join(s.dir, keyID), nil
}

func (s *FileKeyStore) PersistFinalizedKey(ctx context.Context, record *UserRecord) error {
	if record == nil {
		return ErrInvalidRequest.WithDetails("nil record")
	}
	p, err := s.path(record.KeyID)
	if err != nil {
		return err
	}

	raw, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	defer ZeroizeBytes(raw)

	sealed, err := Seal(s.key, raw, recordAAD(record.KeyID))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, sealed, filePerms); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to replace record file: %w", err)
	}
	return nil
}

func (s *FileKeyStore) Get(ctx context.Context, keyID string) (*UserRecord, error) {
	p, err := s.path(keyID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sealed, err := os.ReadFile(p)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound.WithContext("key_id", keyID)
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	raw, err := Open(s.key, sealed, recordAAD(keyID))
	if err != nil {
		return nil, err
	}
	defer ZeroizeBytes(raw)

	var r UserRecord
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &r, nil
}

func recordAAD(keyID string) []byte {
	aad := make([]byte, 0, len(purposeRecord)+len(keyID))
	aad = append(aad, purposeRecord...)
	return append(aad, keyID...)
}
