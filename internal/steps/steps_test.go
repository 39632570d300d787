package steps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

func statuses(steps []UiStep) []Status {
	out := make([]Status, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

const (
	p = StatusPending
	a = StatusActive
	c = StatusCompleted
	e = StatusError
)

func TestInfer_StatusProgression(t *testing.T) {
	t.Parallel()

	observed := []protocol.JobStatus{
		protocol.JobPending,
		protocol.JobPending,
		protocol.JobDumping,
		protocol.JobDeploying,
		protocol.JobSuccess,
	}
	want := [][]Status{
		{a, p, p, p, p, p},
		{a, p, p, p, p, p},
		{c, a, p, p, p, p},
		{c, c, c, c, a, p},
		{c, c, c, c, c, c},
	}
	for i, st := range observed {
		require.Equal(t, want[i], statuses(Infer(st, "")), "observation %d (%s)", i, st)
	}
}

func TestInfer_Closed(t *testing.T) {
	t.Parallel()
	require.Equal(t, []Status{c, c, c, c, c, c}, statuses(Infer(protocol.JobClosed, "")))
}

func TestInfer_FailureAttribution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		errText string
		want    []Status
	}{
		{"treasury", "Treasury pool has insufficient lamports", []Status{c, c, c, e, p, p}},
		{"fund", "failed to fund deployer", []Status{c, c, c, e, p, p}},
		{"dump", "solana program dump exited 1", []Status{c, e, p, p, p, p}},
		{"verify", "Program not found on devnet", []Status{e, p, p, p, p, p}},
		{"request", "create deploy request: 500", []Status{c, c, e, p, p, p}},
		{"confirm", "deployment confirmation timed out", []Status{c, c, c, c, c, e}},
		{"deploy", "write buffer failed", []Status{c, c, c, c, e, p}},
		{"unknown", "segmentation fault", []Status{c, c, c, c, e, p}},
		{"empty", "", []Status{c, c, c, c, e, p}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, statuses(Infer(protocol.JobFailed, tt.errText)))
		})
	}
}

func TestInfer_ErroredStepCarriesText(t *testing.T) {
	t.Parallel()

	steps := Infer(protocol.JobFailed, "  Treasury pool empty  ")
	require.Equal(t, StepFund, steps[3].ID)
	require.Equal(t, "Treasury pool empty", steps[3].Error)
	for i, s := range steps {
		if i != 3 {
			require.Empty(t, s.Error)
		}
	}
}

func TestInferAfter_UnknownFailureUsesLastActive(t *testing.T) {
	t.Parallel()

	require.Equal(t, []Status{c, e, p, p, p, p}, statuses(InferAfter(protocol.JobDumping, protocol.JobFailed, "exit status 137")))
	require.Equal(t, []Status{e, p, p, p, p, p}, statuses(InferAfter(protocol.JobPending, protocol.JobFailed, "exit status 137")))
	// A keyword match wins over history.
	require.Equal(t, []Status{c, c, c, e, p, p}, statuses(InferAfter(protocol.JobPending, protocol.JobFailed, "treasury empty")))
}

func TestInfer_IsPure(t *testing.T) {
	t.Parallel()

	inputs := []struct {
		status protocol.JobStatus
		err    string
	}{
		{protocol.JobPending, ""},
		{protocol.JobDeploying, ""},
		{protocol.JobFailed, "insufficient funds"},
		{protocol.JobFailed, "???"},
		{protocol.JobSuccess, ""},
	}
	for _, in := range inputs {
		first := Infer(in.status, in.err)
		for i := 0; i < 3; i++ {
			require.Equal(t, first, Infer(in.status, in.err))
		}
		first[0].Status = StatusError
		require.NotEqual(t, first, Infer(in.status, in.err), "results must not share state")
	}
}

func TestCategorize(t *testing.T) {
	t.Parallel()

	require.Equal(t, CategoryNone, Categorize("   "))
	require.Equal(t, CategoryUnknown, Categorize("kaboom"))
	require.Equal(t, CategoryFund, Categorize("deploy failed: insufficient balance"))
	require.Equal(t, "unknown", CategoryUnknown.String())
}

func TestProgress(t *testing.T) {
	t.Parallel()

	done, total := Progress(Infer(protocol.JobDeploying, ""))
	require.Equal(t, 4, done)
	require.Equal(t, 6, total)
}
