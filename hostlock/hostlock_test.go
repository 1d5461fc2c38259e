package hostlock

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinythings/bootr/catalog"
)

func TestWithLockRunsFnAndReleases(t *testing.T) {
	root := t.TempDir()
	cat := catalog.New(root)
	require.NoError(t, os.MkdirAll(cat.SystemDir(), 0o750))

	ran := false
	err := WithLock(context.Background(), cat, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	// A second acquisition after release must succeed.
	ran2 := false
	err = WithLock(context.Background(), cat, func(context.Context) error {
		ran2 = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran2)
}

func TestWithLockPropagatesFnError(t *testing.T) {
	root := t.TempDir()
	cat := catalog.New(root)
	require.NoError(t, os.MkdirAll(cat.SystemDir(), 0o750))

	err := WithLock(context.Background(), cat, func(context.Context) error {
		return os.ErrInvalid
	})
	require.Error(t, err)
}
