package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobDumping   JobStatus = "DUMPING"
	JobDeploying JobStatus = "DEPLOYING"
	JobSuccess   JobStatus = "SUCCESS"
	JobFailed    JobStatus = "FAILED"
	JobClosed    JobStatus = "CLOSED"
)

func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case JobPending, JobDumping, JobDeploying, JobSuccess, JobFailed, JobClosed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// Active jobs are still being advanced by the backend runner.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobDumping || s == JobDeploying
}

func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailed || s == JobClosed
}

func (s *JobStatus) UnmarshalText(b []byte) error {
	st, err := ParseJobStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// DeploymentJob mirrors the backend's deployment record. The client only
// observes it.
type DeploymentJob struct {
	ID                string    `json:"id"`
	UserWalletAddress string    `json:"userWalletAddress,omitempty"`
	ProgramID         string    `json:"programId"`
	Status            JobStatus `json:"status"`
	PaymentSignature  string    `json:"paymentSignature,omitempty"`
	ResultProgramID   string    `json:"deployedProgramId,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	ServiceFee        uint64    `json:"serviceFee,omitempty"`
	PlatformFee       uint64    `json:"platformFee,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogFragment is one server-side log line for a job. Identity is the
// (Timestamp, Message) pair.
type LogFragment struct {
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	Phase     string    `json:"phase,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type logKey struct {
	ts  int64
	msg string
}

func (f LogFragment) key() logKey {
	return logKey{ts: f.Timestamp.UnixNano(), msg: f.Message}
}

// MergeLogs admits incoming fragments whose (timestamp, message) pair is not
// already present and returns the union in timestamp order. Neither input is
// modified. Merging the same fragments again is a no-op.
func MergeLogs(existing, incoming []LogFragment) []LogFragment {
	seen := make(map[logKey]struct{}, len(existing)+len(incoming))
	out := make([]LogFragment, 0, len(existing)+len(incoming))
	for _, list := range [][]LogFragment{existing, incoming} {
		for _, f := range list {
			k := f.key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
