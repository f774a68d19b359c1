// Package workflow turns a free-text task into one of a fixed set of
// workflows and runs it through the guarded executor: platform startup,
// the failing-tests fix loop, doctor autofix, or a generic plan.
package workflow

import "regexp"

// Kind is a known workflow.
type Kind string

const (
	KindStartup  Kind = "platform-startup"
	KindFixTests Kind = "fix-tests"
	KindAutofix  Kind = "doctor-autofix"
	KindGeneric  Kind = "generic"
)

var (
	startPlatformPattern = regexp.MustCompile(`(?i)start\s+platform`)
	fixTestsPattern      = regexp.MustCompile(`(?i)fix\s+failing\s+tests`)
	doctorPattern        = regexp.MustCompile(`(?i)doctor`)
	autofixPattern       = regexp.MustCompile(`(?i)auto\s*-?\s*fix`)
)

// Resolve maps task text to a workflow. Anything unrecognized is generic.
func Resolve(task string) Kind {
	switch {
	case startPlatformPattern.MatchString(task):
		return KindStartup
	case fixTestsPattern.MatchString(task):
		return KindFixTests
	case doctorPattern.MatchString(task) && autofixPattern.MatchString(task):
		return KindAutofix
	default:
		return KindGeneric
	}
}
