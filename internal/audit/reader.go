package audit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
)

// Filter selects records; zero fields match everything.
type Filter struct {
	RunID  model.RunID
	Action model.AuditAction
}

func (f Filter) match(r model.AuditRecord) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	return true
}

// ReadAll returns every record in the log in order. A missing log is empty.
func ReadAll(path string) ([]model.AuditRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var records []model.AuditRecord
	scanner := newScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, errclass.ErrAuditChainBroken.WithMessagef("line %d: %v", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return records, nil
}

// Tail returns the last n records matching f, oldest first. n <= 0
// returns all matches.
func Tail(path string, n int, f Filter) ([]model.AuditRecord, error) {
	records, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	var matched []model.AuditRecord
	for _, r := range records {
		if f.match(r) {
			matched = append(matched, r)
		}
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched, nil
}

// Verify walks the chain and returns the number of records checked. Any
// gap in sequence numbers, mismatched link or altered record is reported
// as ErrAuditChainBroken.
func Verify(path string) (int, error) {
	records, err := ReadAll(path)
	if err != nil {
		return 0, err
	}
	var prev model.HashValue
	for i, r := range records {
		if r.Seq != int64(i+1) {
			return i, errclass.ErrAuditChainBroken.WithMessagef("record %d has seq %d", i+1, r.Seq)
		}
		if r.PrevHash != prev {
			return i, errclass.ErrAuditChainBroken.WithMessagef("record %d does not link to its predecessor", r.Seq)
		}
		want, err := computeRecordHash(r)
		if err != nil {
			return i, err
		}
		if want != r.RecordHash {
			return i, errclass.ErrAuditChainBroken.WithMessagef("record %d hash mismatch", r.Seq)
		}
		prev = r.RecordHash
	}
	return len(records), nil
}
