package executor_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/stretchr/testify/assert"
)

var pushRequest = executor.ConfirmRequest{Label: `Command "git push"`, Reason: "git push requires confirmation"}

func TestPrompter_NonInteractiveRefuses(t *testing.T) {
	var out bytes.Buffer
	p := executor.NewPrompter(strings.NewReader("y\n"), &out, false)

	c := p.Confirm(context.Background(), pushRequest)
	assert.False(t, c.Approved)
	assert.Equal(t, executor.ReasonNonInteractive, c.Reason)
	assert.Empty(t, out.String(), "no prompt without a terminal")
}

func TestPrompter_Answers(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{"  YES  \n", true},
		{"n\n", false},
		{"\n", false},
		{"yep\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := executor.NewPrompter(strings.NewReader(tt.answer), &out, true)
		c := p.Confirm(context.Background(), pushRequest)
		assert.Equal(t, tt.want, c.Approved, "answer %q", tt.answer)
		assert.Equal(t, executor.MethodPrompt, c.Method)
		if !tt.want {
			assert.Equal(t, executor.ReasonDeclined, c.Reason)
		}
		assert.Contains(t, out.String(), `Command "git push" requires confirmation (git push requires confirmation). Continue? (y/N)`)
	}
}

func TestPrompter_SequentialAnswersShareReader(t *testing.T) {
	p := executor.NewPrompter(strings.NewReader("n\ny\n"), &bytes.Buffer{}, true)
	assert.False(t, p.Confirm(context.Background(), pushRequest).Approved)
	assert.True(t, p.Confirm(context.Background(), pushRequest).Approved)
}

func TestAutoApprove(t *testing.T) {
	c := executor.AutoApprove{}.Confirm(context.Background(), pushRequest)
	assert.True(t, c.Approved)
	assert.Equal(t, executor.MethodAuto, c.Method)
}

func TestScripted(t *testing.T) {
	s := executor.NewScripted(true, false)
	assert.True(t, s.Confirm(context.Background(), pushRequest).Approved)
	assert.False(t, s.Confirm(context.Background(), pushRequest).Approved)
	c := s.Confirm(context.Background(), pushRequest)
	assert.False(t, c.Approved, "declines once answers run out")
	assert.Equal(t, executor.ReasonDeclined, c.Reason)
	assert.Len(t, s.Requests, 3)
}
