package model_test

import (
	"testing"

	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDoctorReport_Valid(t *testing.T) {
	raw := `{"ok":false,"checks":[
		{"id":"env_files","status":"fail","summary":"env files missing","details":["none"],
		 "fix":{"id":"create_env","safe":true,"commands":["cp .env.example .env"],"files":[".env"],"notes":""}},
		{"id":"git_present","status":"pass","summary":"git available","details":[],"fix":null}
	]}`

	report, err := model.ParseDoctorReport([]byte(raw))
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.Len(t, report.Checks, 2)

	env, ok := report.Check("env_files")
	require.True(t, ok)
	assert.True(t, env.HasSafeFix())
	assert.True(t, env.Status.NeedsAttention())
	assert.Equal(t, []string{"cp .env.example .env"}, env.Fix.Commands)

	git, _ := report.Check("git_present")
	assert.False(t, git.HasSafeFix())
	assert.False(t, git.Status.NeedsAttention())
}

func TestParseDoctorReport_Unparsable(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"not json":       "Doctor report:\n- git: ok",
		"missing checks": `{"ok":true}`,
		"bad status":     `{"ok":true,"checks":[{"id":"a","status":"ok"}]}`,
		"missing id":     `{"ok":true,"checks":[{"status":"pass"}]}`,
		"duplicate id":   `{"ok":true,"checks":[{"id":"a","status":"pass"},{"id":"a","status":"pass"}]}`,
		"safe not bool":  `{"ok":false,"checks":[{"id":"a","status":"fail","fix":{"id":"f","safe":"true"}}]}`,
		"fix without id": `{"ok":false,"checks":[{"id":"a","status":"fail","fix":{"safe":true}}]}`,
		"trailing data":  `{"ok":true,"checks":[]} {"ok":false}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := model.ParseDoctorReport([]byte(raw))
			require.ErrorIs(t, err, errclass.ErrReportUnparsable)
		})
	}
}

func TestParseDoctorReport_EmptyChecksIsValid(t *testing.T) {
	report, err := model.ParseDoctorReport([]byte(`{"ok":true,"checks":[]}`))
	require.NoError(t, err)
	assert.Empty(t, report.Checks)
}

func TestParseCheckpointMode(t *testing.T) {
	m, ok := model.ParseCheckpointMode("commit")
	assert.True(t, ok)
	assert.Equal(t, model.CheckpointCommit, m)

	_, ok = model.ParseCheckpointMode("stash")
	assert.False(t, ok)
}
