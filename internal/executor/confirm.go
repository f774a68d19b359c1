package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Confirmation methods and refusal reasons.
const (
	MethodAuto     = "auto"
	MethodPrompt   = "prompt"
	MethodScripted = "scripted"

	ReasonNonInteractive = "non-interactive session"
	ReasonDeclined       = "user declined"
)

// ConfirmRequest describes what needs approval.
type ConfirmRequest struct {
	Label  string // e.g. `Command "git push"`
	Reason string // e.g. "git push requires confirmation"
}

// Confirmation is the outcome of a gate.
type Confirmation struct {
	Approved bool
	Method   string
	Reason   string
}

// Confirmer asks for approval of one gated action. Declining and being
// unable to ask are both a refusal.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) Confirmation
}

// AutoApprove approves everything; used for --yes.
type AutoApprove struct{}

// Confirm implements Confirmer.
func (AutoApprove) Confirm(context.Context, ConfirmRequest) Confirmation {
	return Confirmation{Approved: true, Method: MethodAuto}
}

var yesPattern = regexp.MustCompile(`(?i)^y(es)?$`)

// Prompter asks on a terminal. Without a terminal it refuses.
type Prompter struct {
	in         io.Reader
	out        io.Writer
	isTerminal func() bool

	once   sync.Once
	reader *bufio.Reader
}

// NewTTYPrompter prompts on out and reads answers from in, refusing when
// in is not a terminal.
func NewTTYPrompter(in *os.File, out io.Writer) *Prompter {
	return &Prompter{
		in:         in,
		out:        out,
		isTerminal: func() bool { return term.IsTerminal(int(in.Fd())) },
	}
}

// NewPrompter builds a prompter over arbitrary streams; interactive
// reports whether prompting is possible.
func NewPrompter(in io.Reader, out io.Writer, interactive bool) *Prompter {
	return &Prompter{in: in, out: out, isTerminal: func() bool { return interactive }}
}

// Confirm implements Confirmer.
func (p *Prompter) Confirm(_ context.Context, req ConfirmRequest) Confirmation {
	if !p.isTerminal() {
		return Confirmation{Method: MethodPrompt, Reason: ReasonNonInteractive}
	}
	p.once.Do(func() { p.reader = bufio.NewReader(p.in) })

	fmt.Fprintf(p.out, "%s requires confirmation (%s). Continue? (y/N) ", req.Label, req.Reason)

	line, err := p.reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return Confirmation{Method: MethodPrompt, Reason: ReasonDeclined}
	}
	if yesPattern.MatchString(strings.TrimSpace(line)) {
		return Confirmation{Approved: true, Method: MethodPrompt}
	}
	return Confirmation{Method: MethodPrompt, Reason: ReasonDeclined}
}

// Scripted answers from a fixed list and remembers what it was asked.
// Once answers run out it declines.
type Scripted struct {
	mu       sync.Mutex
	answers  []bool
	Requests []ConfirmRequest
}

// NewScripted returns a confirmer that replays answers in order.
func NewScripted(answers ...bool) *Scripted {
	return &Scripted{answers: answers}
}

// Confirm implements Confirmer.
func (s *Scripted) Confirm(_ context.Context, req ConfirmRequest) Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if len(s.answers) == 0 {
		return Confirmation{Method: MethodScripted, Reason: ReasonDeclined}
	}
	ok := s.answers[0]
	s.answers = s.answers[1:]
	if !ok {
		return Confirmation{Method: MethodScripted, Reason: ReasonDeclined}
	}
	return Confirmation{Approved: true, Method: MethodScripted}
}
