// Package steps derives the six user-facing deployment steps from a job's
// status and error text. Every function here is pure.
package steps

import (
	"strings"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

type ID string

const (
	StepVerify  ID = "verify"
	StepDump    ID = "dump"
	StepRequest ID = "request"
	StepFund    ID = "fund"
	StepDeploy  ID = "deploy"
	StepConfirm ID = "confirm"
)

type UiStep struct {
	ID          ID     `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
}

var template = [...]struct {
	id          ID
	label       string
	description string
}{
	{StepVerify, "Verify program", "Check the program exists on the source network"},
	{StepDump, "Dump binary", "Download the program binary"},
	{StepRequest, "Create request", "Record the deployment request"},
	{StepFund, "Fund deployer", "Fund the deployer from the treasury pool"},
	{StepDeploy, "Deploy program", "Write the buffer and deploy the program"},
	{StepConfirm, "Confirm", "Wait for the deployment to be confirmed"},
}

// Category is the failure class read from an error message.
type Category int

const (
	CategoryNone Category = iota
	CategoryVerify
	CategoryDump
	CategoryRequest
	CategoryFund
	CategoryDeploy
	CategoryConfirm
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryVerify:
		return "verify"
	case CategoryDump:
		return "dump"
	case CategoryRequest:
		return "request"
	case CategoryFund:
		return "fund"
	case CategoryDeploy:
		return "deploy"
	case CategoryConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// rules are checked in order; the first match wins.
var rules = []struct {
	category Category
	markers  []string
}{
	{CategoryFund, []string{"fund", "treasury", "insufficient", "lamports", "balance"}},
	{CategoryDump, []string{"dump"}},
	{CategoryVerify, []string{"verif", "not found", "invalid program", "not executable"}},
	{CategoryRequest, []string{"request"}},
	{CategoryConfirm, []string{"confirm", "timeout", "timed out"}},
	{CategoryDeploy, []string{"deploy", "buffer", "upgrade"}},
}

// Categorize returns CategoryNone for empty text and CategoryUnknown when no
// rule matches.
func Categorize(errText string) Category {
	s := strings.ToLower(strings.TrimSpace(errText))
	if s == "" {
		return CategoryNone
	}
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(s, m) {
				return r.category
			}
		}
	}
	return CategoryUnknown
}

func (c Category) step() int {
	switch c {
	case CategoryVerify:
		return 0
	case CategoryDump:
		return 1
	case CategoryRequest:
		return 2
	case CategoryFund:
		return 3
	case CategoryDeploy:
		return 4
	case CategoryConfirm:
		return 5
	default:
		return -1
	}
}

// activeStep is the index of the step a non-terminal status is working on.
func activeStep(status protocol.JobStatus) int {
	switch status {
	case protocol.JobPending:
		return 0
	case protocol.JobDumping:
		return 1
	case protocol.JobDeploying:
		return 4
	default:
		return -1
	}
}

// Infer renders the steps for one observation. An unmatched failure is
// attributed to the deploy step, the last one the runner reports as active.
func Infer(status protocol.JobStatus, errText string) []UiStep {
	return InferAfter(protocol.JobDeploying, status, errText)
}

// InferAfter is Infer for callers that know the last active status observed
// before the failure; unmatched failures are attributed to that status's
// step.
func InferAfter(lastActive protocol.JobStatus, status protocol.JobStatus, errText string) []UiStep {
	out := make([]UiStep, len(template))
	for i, t := range template {
		out[i] = UiStep{ID: t.id, Label: t.label, Description: t.description, Status: StatusPending}
	}

	switch status {
	case protocol.JobSuccess, protocol.JobClosed:
		markThrough(out, len(out))
	case protocol.JobFailed:
		failed := Categorize(errText).step()
		if failed < 0 {
			failed = activeStep(lastActive)
		}
		if failed < 0 {
			failed = activeStep(protocol.JobDeploying)
		}
		markThrough(out, failed)
		out[failed].Status = StatusError
		out[failed].Error = strings.TrimSpace(errText)
	default:
		if i := activeStep(status); i >= 0 {
			markThrough(out, i)
			out[i].Status = StatusActive
		}
	}
	return out
}

func markThrough(out []UiStep, n int) {
	for i := 0; i < n; i++ {
		out[i].Status = StatusCompleted
	}
}

// Progress counts completed steps.
func Progress(steps []UiStep) (completed, total int) {
	for _, s := range steps {
		if s.Status == StatusCompleted {
			completed++
		}
	}
	return completed, len(steps)
}
