package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/illuvrse/operator/pkg/model"
)

// Follow streams records appended to the log after the call starts,
// until ctx is done. The parent directory is watched so a log that does
// not exist yet is picked up once created.
func Follow(ctx context.Context, path string, f Filter, fn func(model.AuditRecord)) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch audit dir: %w", err)
	}

	t := &tailer{path: filepath.Clean(path), filter: f, fn: fn}
	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := t.drain(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch audit log: %w", err)
		}
	}
}

type tailer struct {
	path    string
	filter  Filter
	fn      func(model.AuditRecord)
	offset  int64
	partial []byte
}

func (t *tailer) drain() error {
	file, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat audit log: %w", err)
	}
	if info.Size() < t.offset {
		// rotated or truncated; start over
		t.offset = 0
		t.partial = nil
	}
	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek audit log: %w", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]
		var record model.AuditRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		if t.filter.match(record) {
			t.fn(record)
		}
	}
	t.partial = append([]byte(nil), buf...)
	return nil
}
