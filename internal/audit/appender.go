// Package audit implements the append-only, hash-chained audit log.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/illuvrse/operator/pkg/jsonutil"
	"github.com/illuvrse/operator/pkg/model"
)

// maxLineSize bounds a single JSONL record when scanning.
const maxLineSize = 4 << 20

// FileAppender appends audit records to a JSONL file with hash chain.
type FileAppender struct {
	path  string
	actor string
	mu    sync.Mutex
	now   func() time.Time
}

// NewFileAppender creates a new FileAppender writing as actor.
func NewFileAppender(path, actor string) *FileAppender {
	return &FileAppender{path: path, actor: actor, now: time.Now}
}

// Path returns the log file path.
func (a *FileAppender) Path() string { return a.path }

// Append adds a new audit record to the log. detail is marshaled to JSON
// as given; nil omits it.
func (a *FileAppender) Append(action model.AuditAction, status string, runID model.RunID, detail any) (model.AuditRecord, error) {
	var raw json.RawMessage
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			return model.AuditRecord{}, fmt.Errorf("marshal audit detail: %w", err)
		}
		raw = data
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return model.AuditRecord{}, fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return model.AuditRecord{}, fmt.Errorf("lock audit log: %w", err)
	}
	defer unlockFile(file)

	if err := dropTornTail(file); err != nil {
		return model.AuditRecord{}, fmt.Errorf("repair audit log: %w", err)
	}

	last, err := lastRecord(file)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("read last record: %w", err)
	}

	record := model.AuditRecord{
		Seq:       last.Seq + 1,
		Timestamp: a.now().UTC(),
		Actor:     a.actor,
		Action:    action,
		Status:    status,
		RunID:     runID,
		Detail:    raw,
		PrevHash:  last.RecordHash,
	}
	record.RecordHash, err = computeRecordHash(record)
	if err != nil {
		return model.AuditRecord{}, err
	}

	line, err := json.Marshal(record)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return model.AuditRecord{}, fmt.Errorf("seek to end: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return model.AuditRecord{}, fmt.Errorf("write audit record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return model.AuditRecord{}, fmt.Errorf("sync audit log: %w", err)
	}
	return record, nil
}

// dropTornTail truncates a final line that lacks its newline. Records are
// written with their newline in one write, so such a line is the remains
// of a writer that crashed mid-append and was never part of the chain.
func dropTornTail(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	buf := make([]byte, 4096)
	end := size
	for end > 0 {
		start := end - int64(len(buf))
		if start < 0 {
			start = 0
		}
		chunk := buf[:end-start]
		if _, err := file.ReadAt(chunk, start); err != nil && err != io.EOF {
			return err
		}
		if end == size && chunk[len(chunk)-1] == '\n' {
			return nil
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return file.Truncate(start + int64(i) + 1)
		}
		end = start
	}
	return file.Truncate(0)
}

// lastRecord returns the final well-formed record, or the zero record for
// an empty log.
func lastRecord(file *os.File) (model.AuditRecord, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return model.AuditRecord{}, fmt.Errorf("seek to start: %w", err)
	}

	var last model.AuditRecord
	scanner := newScanner(file)
	for scanner.Scan() {
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue // skip malformed lines
		}
		last = record
	}
	if err := scanner.Err(); err != nil {
		return model.AuditRecord{}, fmt.Errorf("scan audit log: %w", err)
	}
	return last, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return scanner
}

func computeRecordHash(record model.AuditRecord) (model.HashValue, error) {
	record.RecordHash = ""
	sum, err := jsonutil.SHA256Hex(record)
	if err != nil {
		return "", fmt.Errorf("hash audit record: %w", err)
	}
	return model.HashValue(sum), nil
}
