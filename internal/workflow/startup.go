package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
)

// logTail is how many lines of each failing service's log are pulled.
const logTail = 200

var statusFailurePattern = regexp.MustCompile(`(?i)^([\w.-]+):\s+(stopped|unknown)\b`)

// ParseStatusFailures returns the services a status listing reports as
// stopped or unknown, in order of appearance.
func ParseStatusFailures(output string) []string {
	var failing []string
	for _, line := range strings.Split(output, "\n") {
		m := statusFailurePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m != nil {
			failing = appendUnique(failing, m[1])
		}
	}
	return failing
}

// startup brings the platform up and checks that it stays up:
// starting, checking, then healthy or diagnosing.
func (o *Orchestrator) startup(ctx context.Context) result {
	pc := o.cfg.Settings.Platform

	up := o.run(ctx, o.platform("up", "--detach"), executor.RunOptions{})
	if up.Status == executor.StatusDenied {
		return o.refused(KindStartup, up)
	}
	upFailed := !up.OK()

	if err := o.cfg.Sleep(ctx, pc.SettleDelay); err != nil {
		return o.conclude(KindStartup, model.RunFailed, model.DiagnosisDetail{
			Summary:     "Interrupted while waiting for services to settle.",
			Suggestions: []string{fmt.Sprintf("Run %s to see what is running.", o.platform("status"))},
		}, err)
	}

	status := o.run(ctx, o.platform("status"), executor.RunOptions{})
	if status.Status == executor.StatusDenied {
		return o.refused(KindStartup, status)
	}
	statusFailed := !status.OK()

	var failing []string
	if status.Result != nil {
		failing = ParseStatusFailures(status.Result.Stdout)
	}

	health := o.cfg.Prober.Probe(ctx, pc.HealthURL)
	healthStatus := model.StatusOK
	if !health.OK {
		healthStatus = model.StatusFailed
	}
	o.record(model.ActionHealth, healthStatus, health)

	if upFailed || !health.OK {
		failing = appendUnique(failing, pc.DefaultService)
	}

	if !upFailed && !statusFailed && len(failing) == 0 {
		return o.conclude(KindStartup, model.RunOK, model.DiagnosisDetail{
			Summary: "Platform started successfully and passed basic health check.",
		}, nil)
	}

	targets := failing
	if len(targets) == 0 {
		targets = []string{pc.DefaultService}
	}
	for _, svc := range targets {
		o.run(ctx, o.platform("logs", executor.Quote(svc), "--tail", fmt.Sprint(logTail)), executor.RunOptions{})
	}

	var diagnosis []string
	if upFailed {
		diagnosis = append(diagnosis, "platform up failed; check CLI output and dependencies.")
	}
	if statusFailed {
		diagnosis = append(diagnosis, "platform status failed; check CLI output and environment.")
	}
	if !health.OK {
		diagnosis = append(diagnosis, fmt.Sprintf("%s service not responding on %s.", pc.DefaultService, pc.HealthURL))
	}
	if len(failing) > 0 {
		diagnosis = append(diagnosis, "unhealthy services: "+strings.Join(failing, ", "))
	}

	suggestions := []string{
		fmt.Sprintf("Run %s for prerequisite checks.", o.platform("doctor")),
		fmt.Sprintf("Review %s output for errors.", o.platform("logs", "<service>")),
		"Verify ports are free and required env files exist.",
	}
	if names := o.cfg.Index.ServiceNames(); len(names) > 0 {
		suggestions = append(suggestions, "Indexed services to inspect: "+strings.Join(names, ", ")+".")
	}

	return o.conclude(KindStartup, model.RunFailed, model.DiagnosisDetail{
		Summary:     strings.Join(diagnosis, " "),
		Suggestions: suggestions,
	}, errclass.ErrCommandFailed.WithMessage("platform did not start cleanly"))
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
