package bootrerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindClassification(t *testing.T) {
	err := NotFoundf("slot %s missing", "B")
	require.True(t, errors.Is(err, NotFound))
	require.False(t, errors.Is(err, AlreadyExists))

	kind, ok := Of(err)
	require.True(t, ok)
	require.Equal(t, KindNotFound, kind)
}

func TestWrappedCausePreserved(t *testing.T) {
	cause := errors.New("boom")
	err := IOf(cause, "write %s", "oci-meta")
	require.True(t, errors.Is(err, IOErr))
	require.ErrorIs(t, err, cause)
}
