// Package auditlog stores audit entries as an append-only JSONL file.
package auditlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dyluth/warren/pkg/blackboard"
)

// maxLineBytes bounds one persisted entry.
const maxLineBytes = 1 << 20

// ErrEntryTooLarge is returned by Append for entries that would not fit on
// one loadable line.
var ErrEntryTooLarge = errors.New("audit entry too large")

// FileSink appends audit entries to a JSONL file, one entry per line.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink returns a sink writing to path. The file and its directory are
// created on first append.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Append writes entry as one line and syncs it to disk.
func (s *FileSink) Append(_ context.Context, entry blackboard.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if len(data) >= maxLineBytes {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close() //nolint:errcheck // Sync below reports write failures

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

// Load reads every entry in write order. Lines that fail to decode, including
// a torn final line and lines over the size bound, are skipped and counted.
// A missing file is an empty log. On a read error the entries decoded so far
// are returned with it.
func (s *FileSink) Load(_ context.Context) (entries []blackboard.AuditEntry, skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []blackboard.AuditEntry{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open audit log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	entries = []blackboard.AuditEntry{}
	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, oversized, rerr := readLine(reader)
		switch {
		case oversized:
			skipped++
		case len(line) > 0:
			var entry blackboard.AuditEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				skipped++
			} else {
				entries = append(entries, entry)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return entries, skipped, nil
		}
		if rerr != nil {
			return entries, skipped, fmt.Errorf("read audit log: %w", rerr)
		}
	}
}

// readLine returns the next line without its newline. Lines longer than
// maxLineBytes are consumed but not returned, and reported as oversized.
func readLine(r *bufio.Reader) (line []byte, oversized bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > maxLineBytes {
				oversized, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			return nil, true, err
		}
		return bytes.TrimRight(line, "\r\n"), false, err
	}
}
