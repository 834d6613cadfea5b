package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestUsageErrorsReturnExitCode(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"export without file", []string{"portalctl", "--database-url", "postgres://x", "export-contacts"}},
		{"import without file", []string{"portalctl", "--database-url", "postgres://x", "import-contacts"}},
		{"set-plan with one arg", []string{"portalctl", "--database-url", "postgres://x", "set-plan", "a@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newApp().Run(tt.args)
			require.Error(t, err)
			var exit cli.ExitCoder
			require.True(t, errors.As(err, &exit))
			assert.Equal(t, 2, exit.ExitCode())
		})
	}
}

func TestMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	require.NoError(t, os.Unsetenv("DATABASE_URL"))
	err := newApp().Run([]string{"portalctl", "dedupe"})
	require.Error(t, err)
	var exit cli.ExitCoder
	assert.False(t, errors.As(err, &exit))
}
