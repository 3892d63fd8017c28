package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"taskstream/internal/delivery/server/bootstrap"
	"taskstream/internal/infra/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "taskstream "+bootstrap.Version+"\n", out.String())
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TASKSTREAM_AUTH_JWT_SECRET", "s3cret")

	var out, errOut bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"token", "--subject", "alice"})
	require.NoError(t, root.Execute())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a, err := auth.New(ctx, auth.Config{JWTSecret: "s3cret"})
	require.NoError(t, err)
	identity, err := a.Identify(ctx, strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Subject)
}

func TestTokenCommandRequiresSubject(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token"})
	assert.Error(t, root.Execute())
}
