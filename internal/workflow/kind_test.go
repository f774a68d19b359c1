package workflow_test

import (
	"testing"

	"github.com/illuvrse/operator/internal/workflow"
	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		task string
		want workflow.Kind
	}{
		{"start platform", workflow.KindStartup},
		{"please Start   Platform now", workflow.KindStartup},
		{"fix failing tests", workflow.KindFixTests},
		{"Fix  failing\ttests in web", workflow.KindFixTests},
		{"doctor autofix", workflow.KindAutofix},
		{"run doctor auto-fix", workflow.KindAutofix},
		{"doctor auto fix please", workflow.KindAutofix},
		{"doctor", workflow.KindGeneric},
		{"autofix lint", workflow.KindGeneric},
		{"refactor the router", workflow.KindGeneric},
		{"", workflow.KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, workflow.Resolve(tt.task))
		})
	}
}
