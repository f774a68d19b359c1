package audit

import (
	"context"
	"fmt"

	"github.com/illuvrse/operator/pkg/model"
)

// ActionSink mirrors audit records into the run store.
type ActionSink interface {
	AddAction(ctx context.Context, action model.Action) error
}

// Trail binds an appender to one run: every record is stamped with the
// run id and mirrored to the sink as a run action. It satisfies the
// executor's Recorder.
type Trail struct {
	appender *FileAppender
	runID    model.RunID
	sink     ActionSink
}

// NewTrail returns a trail for runID. sink may be nil.
func NewTrail(appender *FileAppender, runID model.RunID, sink ActionSink) *Trail {
	return &Trail{appender: appender, runID: runID, sink: sink}
}

// RunID returns the run the trail is bound to.
func (t *Trail) RunID() model.RunID { return t.runID }

// Record appends one record and mirrors it. The audit file is the source
// of truth; a sink failure is returned after the append succeeded.
func (t *Trail) Record(action model.AuditAction, status string, detail any) error {
	record, err := t.appender.Append(action, status, t.runID, detail)
	if err != nil {
		return err
	}
	if t.sink == nil {
		return nil
	}
	err = t.sink.AddAction(context.Background(), model.Action{
		RunID:     t.runID,
		Seq:       record.Seq,
		Kind:      string(action),
		Status:    status,
		Detail:    record.Detail,
		CreatedAt: record.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("mirror audit record %d: %w", record.Seq, err)
	}
	return nil
}
