// Package policy classifies shell commands as allow, confirm or deny and
// flags sensitive file paths.
//
// Deny rules are checked first and always win. Read-only evaluation skips
// the confirm list. Rules are ordered; the first match supplies the reason.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/illuvrse/operator/pkg/config"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
)

// Rule is one ordered pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Reason  string
}

// Options modifies evaluation.
type Options struct {
	// ReadOnly marks helper commands (scans, greps) that bypass the
	// confirm list. Deny rules still apply.
	ReadOnly bool
}

// Engine evaluates commands against deny and confirm lists.
type Engine struct {
	deny    []Rule
	confirm []Rule
}

func rule(name, pattern, reason string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(`(?i)` + pattern), Reason: reason}
}

// Built-in deny rules.
var defaultDeny = []Rule{
	rule("rm-recursive-force", `\brm\b[^;&|]*\s-[a-z]*(r[a-z]*f|f[a-z]*r)`, "recursive forced delete is not allowed"),
	rule("rm-recursive-force", `\brm\b[^;&|]*\s(-r|--recursive)\b[^;&|]*\s(-f|--force)\b`, "recursive forced delete is not allowed"),
	rule("rm-recursive-force", `\brm\b[^;&|]*\s(-f|--force)\b[^;&|]*\s(-r|--recursive)\b`, "recursive forced delete is not allowed"),
	rule("rm-git-dir", `\brm\b[^;&|]*\s(\S*/)?\.git(/|\s|$)`, "deleting .git is not allowed"),
	rule("sudo", `\b(sudo|doas)\b`, "privilege escalation is not allowed"),
	rule("su", `(^|[;&|(]\s*)su(\s|$)`, "privilege escalation is not allowed"),
	rule("mkfs", `\bmkfs(\.\w+)?\b`, "filesystem formatting is not allowed"),
	rule("dd", `\bdd\b`, "dd is not allowed"),
	rule("raw-device-write", `>\s*/dev/(sd|hd|vd|xvd|nvme|disk|mmcblk)\w*`, "raw device writes are not allowed"),
	rule("chmod-777-recursive", `\bchmod\b[^;&|]*\s(-[a-z]*R[a-z]*|--recursive)\s[^;&|]*\b0?777\b`, "chmod -R 777 is not allowed"),
	rule("chmod-777-recursive", `\bchmod\b[^;&|]*\s0?777\s[^;&|]*(-[a-z]*R[a-z]*|--recursive)\b`, "chmod -R 777 is not allowed"),
	rule("chmod-world-writable-recursive", `\bchmod\b[^;&|]*\s(-[a-z]*R[a-z]*|--recursive)[^;&|]*`+worldWritable, "recursive world-writable chmod is not allowed"),
	rule("chmod-world-writable-recursive", `\bchmod\b[^;&|]*`+worldWritable+`[^;&|]*\s(-[a-z]*R[a-z]*|--recursive)\b`, "recursive world-writable chmod is not allowed"),
}

// worldWritable matches a symbolic mode granting write to others, such as
// o+w, a+rwx or u+x,o=rw.
const worldWritable = `(^|\s|,)[ugoa]*[ao][ugoa]*[+=][rwxXst]*w`

// gitCmd matches git followed by any global options, such as -C dir,
// -c key=value or --no-pager.
const gitCmd = `\bgit(\s+(-C|-c|--git-dir|--work-tree|--namespace)\s+\S+|\s+--?[\w-]+(=\S+)?)*`

// Built-in confirm rules.
var defaultConfirm = []Rule{
	rule("git-push", gitCmd+`\s+push\b`, "git push requires confirmation"),
	rule("git-branch-delete", gitCmd+`\s+branch\b[^;&|]*\s(-[a-z]*d[a-z]*|--delete)\b`, "deleting branches requires confirmation"),
	rule("env-file", `(^|[^\w.])\.env(\.[\w.-]+)?($|[^\w.-])`, "modifying env files requires confirmation"),
	rule("secrets", `\bsecrets?\b`, "modifying secrets requires confirmation"),
	rule("deploy-stop", `\b(deploy|release)\b.*\b(stop|down|halt|rollback)\b`, "stopping deploy scripts requires confirmation"),
	rule("prod-stop", `\bprod(uction)?\b.*\b(stop|down|halt|rollback)\b`, "stopping production deploy scripts requires confirmation"),
}

// New builds an engine from explicit rule lists.
func New(deny, confirm []Rule) *Engine {
	return &Engine{
		deny:    append([]Rule(nil), deny...),
		confirm: append([]Rule(nil), confirm...),
	}
}

// Default returns the engine with the built-in rules only.
func Default() *Engine {
	return New(defaultDeny, defaultConfirm)
}

// FromConfig returns the built-in rules followed by configured extras.
func FromConfig(cfg config.PolicyConfig) (*Engine, error) {
	deny, err := compileExtra("extra-deny", cfg.ExtraDeny, "denied by policy")
	if err != nil {
		return nil, err
	}
	confirm, err := compileExtra("extra-confirm", cfg.ExtraConfirm, "requires confirmation")
	if err != nil {
		return nil, err
	}
	return New(append(append([]Rule(nil), defaultDeny...), deny...),
		append(append([]Rule(nil), defaultConfirm...), confirm...)), nil
}

func compileExtra(prefix string, rules []config.RuleConfig, fallback string) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(`(?i)` + r.Pattern)
		if err != nil {
			return nil, errclass.ErrConfigInvalid.WithMessagef("policy pattern %q: %v", r.Pattern, err)
		}
		reason := r.Reason
		if reason == "" {
			reason = fallback
		}
		out = append(out, Rule{Name: fmt.Sprintf("%s-%d", prefix, i+1), Pattern: re, Reason: reason})
	}
	return out, nil
}

// Evaluate classifies one command.
func (e *Engine) Evaluate(command string, opts Options) model.PolicyDecision {
	command = strings.TrimSpace(command)
	if command == "" {
		return model.PolicyDecision{Status: model.DecisionAllow}
	}
	for _, r := range e.deny {
		if r.Pattern.MatchString(command) {
			return model.PolicyDecision{Status: model.DecisionDeny, Reason: r.Reason, Rule: r.Name}
		}
	}
	if opts.ReadOnly {
		return model.PolicyDecision{Status: model.DecisionAllow}
	}
	for _, r := range e.confirm {
		if r.Pattern.MatchString(command) {
			return model.PolicyDecision{Status: model.DecisionConfirm, Reason: r.Reason, Rule: r.Name}
		}
	}
	return model.PolicyDecision{Status: model.DecisionAllow}
}

// DenyRules returns the ordered deny list.
func (e *Engine) DenyRules() []Rule { return append([]Rule(nil), e.deny...) }

// ConfirmRules returns the ordered confirm list.
func (e *Engine) ConfirmRules() []Rule { return append([]Rule(nil), e.confirm...) }
