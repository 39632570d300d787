package deployerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("deploy: %w", Wrap(KindPartialFailure, "job creation failed", cause))

	require.ErrorIs(t, err, ErrPartialFailure)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrNetwork)
	require.Equal(t, KindPartialFailure, KindOf(err))

	de, ok := As(err)
	require.True(t, ok)
	require.True(t, de.FundsMoved())
	require.False(t, de.Indeterminate())
}

func TestError_MessageFallsBackToKind(t *testing.T) {
	require.Equal(t, "blockhash expired", (&Error{Kind: KindBlockhashExpired}).Error())
	require.Equal(t, "x: y", Wrap(KindNetwork, "x", errors.New("y")).Error())
}

func TestError_DetailText(t *testing.T) {
	e := &Error{Kind: KindSimulationFailed, Detail: "custom program error", Signature: "sig", Logs: []string{"log 1", "log 2"}}
	require.Equal(t, "custom program error\nsignature: sig\nlog 1\nlog 2", e.DetailText())
}

func TestKindOf_Unclassified(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "confirmation_timeout", KindConfirmationTimeout.String())
	require.Equal(t, "unknown", Kind(99).String())
}
