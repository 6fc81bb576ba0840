package gitcap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/errors"
)

func TestCaller_RejectsAgentKinds(t *testing.T) {
	c := New()
	_, err := c.Call(context.Background(), capability.KindCoder, capability.CoderRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCapabilityUnavailable)
}

func TestCaller_RejectsWrongPayload(t *testing.T) {
	c := New()
	_, err := c.Call(context.Background(), capability.KindMerger, capability.GitInitRequest{})
	var vErr *errors.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "payload", vErr.Field)
}

func TestKinds(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.IsGit(), k.Target())
	}
}

func TestDefaultWorktreeDir(t *testing.T) {
	assert.Equal(t, "/repo/.issueforge/worktrees", DefaultWorktreeDir("/repo"))
}
