package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrTampered is returned by Verify when the hash chain does not hold.
var ErrTampered = errors.New("audit journal has been modified")

// record is one journal line. Hash covers the record with Hash empty, so
// editing or removing any line breaks every later link.
type record struct {
	Event
	PreviousHash string `json:"previous_hash,omitempty"`
	Hash         string `json:"hash"`
}

func (rec *record) digest() (string, error) {
	c := *rec
	c.Hash = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Journal appends events to a JSONL file, one synced line per event.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	lastHash string
	closed   bool
}

// OpenJournal opens path for appending, creating it and its directory as
// needed, and continues the hash chain of any existing lines.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	last, err := lastHash(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit journal: %w", err)
	}
	return &Journal{file: file, writer: bufio.NewWriter(file), lastHash: last}, nil
}

func lastHash(path string) (string, error) {
	var last string
	err := scan(path, func(_ int, rec *record) error {
		last = rec.Hash
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return last, err
}

func (j *Journal) Log(event *Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("audit journal is closed")
	}

	rec := &record{Event: *event, PreviousHash: j.lastHash}
	hash, err := rec.digest()
	if err != nil {
		return err
	}
	rec.Hash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := j.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit journal: %w", err)
	}
	j.lastHash = hash
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	flushErr := j.writer.Flush()
	closeErr := j.file.Close()
	return errors.Join(flushErr, closeErr)
}

// Verify checks the hash chain of the journal at path and returns the
// number of events in it.
func Verify(path string) (int, error) {
	var previous string
	n := 0
	err := scan(path, func(line int, rec *record) error {
		if rec.PreviousHash != previous {
			return fmt.Errorf("%w: line %d: chain broken", ErrTampered, line)
		}
		want, err := rec.digest()
		if err != nil {
			return err
		}
		if want != rec.Hash {
			return fmt.Errorf("%w: line %d: hash mismatch", ErrTampered, line)
		}
		previous = rec.Hash
		n++
		return nil
	})
	return n, err
}

// scan calls fn for every line of the journal at path.
func scan(path string, fn func(line int, rec *record) error) (retErr error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	return scanReader(f, fn)
}

func scanReader(r io.Reader, fn func(line int, rec *record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("line %d: failed to parse event: %w", line, err)
		}
		if err := fn(line, &rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}
