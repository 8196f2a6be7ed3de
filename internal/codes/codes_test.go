package codes

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestWrappedErrorsKeepTheirCode(t *testing.T) {
	err := errors.Wrapf(ErrFeeTooHigh, "fee %d above cap %d", 30, 20)
	require.True(t, errors.Is(err, ErrFeeTooHigh))
	require.Equal(t, KindValidation, KindOf(err))
	require.Equal(t, "FeeTooHigh", CodeOf(err))

	double := fmt.Errorf("withdraw: %w", err)
	require.Equal(t, "FeeTooHigh", CodeOf(double))
}

func TestUnclassified(t *testing.T) {
	require.Equal(t, "", CodeOf(nil))
	require.Equal(t, KindInternal, KindOf(errors.New("disk on fire")))
	require.Equal(t, "Internal", CodeOf(errors.New("disk on fire")))
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "proof", KindOf(ErrInvalidProof).String())
	require.Equal(t, "state_conflict", ErrTreeFull.Kind.String())
	require.Equal(t, "authorization", ErrBridgePaused.Kind.String())
}
