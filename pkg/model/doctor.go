package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/illuvrse/operator/pkg/errclass"
)

// CheckStatus is the state of one health check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// NeedsAttention reports whether the check is warn or fail.
func (s CheckStatus) NeedsAttention() bool {
	return s == CheckWarn || s == CheckFail
}

// DoctorReport is the machine-readable health-check report.
type DoctorReport struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

// DoctorCheck is one entry of a DoctorReport.
type DoctorCheck struct {
	ID      string      `json:"id"`
	Status  CheckStatus `json:"status"`
	Summary string      `json:"summary"`
	Details []string    `json:"details"`
	Fix     *DoctorFix  `json:"fix"`
}

// DoctorFix is a remediation descriptor. Only Safe fixes may run unattended.
type DoctorFix struct {
	ID       string   `json:"id"`
	Safe     bool     `json:"safe"`
	Commands []string `json:"commands"`
	Files    []string `json:"files"`
	Notes    string   `json:"notes"`
}

// HasSafeFix reports whether the check carries a fix flagged safe.
func (c DoctorCheck) HasSafeFix() bool {
	return c.Fix != nil && c.Fix.Safe
}

// Check returns the check with id, if present.
func (r *DoctorReport) Check(id string) (DoctorCheck, bool) {
	for _, c := range r.Checks {
		if c.ID == id {
			return c, true
		}
	}
	return DoctorCheck{}, false
}

// Validate enforces the report schema.
func (r *DoctorReport) Validate() error {
	if r.Checks == nil {
		return fmt.Errorf("missing checks")
	}
	seen := make(map[string]bool, len(r.Checks))
	for i, c := range r.Checks {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("check %d: missing id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("check %q: duplicate id", c.ID)
		}
		seen[c.ID] = true
		switch c.Status {
		case CheckPass, CheckWarn, CheckFail:
		default:
			return fmt.Errorf("check %q: invalid status %q", c.ID, c.Status)
		}
		if c.Fix != nil && strings.TrimSpace(c.Fix.ID) == "" {
			return fmt.Errorf("check %q: fix missing id", c.ID)
		}
	}
	return nil
}

// ParseDoctorReport decodes and validates report output. Any failure is
// ErrReportUnparsable; there is no partial result.
func ParseDoctorReport(data []byte) (*DoctorReport, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errclass.ErrReportUnparsable.WithMessage("doctor output empty")
	}
	var report DoctorReport
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&report); err != nil {
		return nil, errclass.ErrReportUnparsable.WithMessagef("invalid json: %v", err)
	}
	if dec.More() {
		return nil, errclass.ErrReportUnparsable.WithMessage("trailing data after report")
	}
	if err := report.Validate(); err != nil {
		return nil, errclass.ErrReportUnparsable.WithMessage(err.Error())
	}
	return &report, nil
}
