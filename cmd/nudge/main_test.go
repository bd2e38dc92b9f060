package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"crm", "--ttl", "1h"})
	require.NoError(t, cmd.Execute())

	sub, err := auth.NewJWT("cli-secret").Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "crm", sub)
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cmd := tokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"crm"})
	assert.Error(t, cmd.Execute())
}

func TestIsPostgres(t *testing.T) {
	assert.True(t, isPostgres("postgres://u@h/db"))
	assert.True(t, isPostgres("postgresql://u@h/db"))
	assert.False(t, isPostgres("redis://h:6379"))
}
