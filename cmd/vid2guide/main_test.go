package main

import (
	"errors"
	"testing"

	"github.com/mik-tf/video-to-guide-pipeline/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestShouldPrintUsageHint(t *testing.T) {
	t.Parallel()

	require.True(t, shouldPrintUsageHint(errors.New("unknown command \"bad\" for \"vid2guide\"")))
	require.True(t, shouldPrintUsageHint(errors.New("unknown flag: --oops")))
	require.True(t, shouldPrintUsageHint(errors.New("--input is required")))
	require.False(t, shouldPrintUsageHint(errors.New("download model \"base\": context deadline exceeded")))
	require.False(t, shouldPrintUsageHint(errors.New("2 of 3 videos failed")))
	require.False(t, shouldPrintUsageHint(nil))
}

func TestHelpHintTarget(t *testing.T) {
	t.Parallel()

	root := cli.NewRootCmd()
	require.Equal(t, "vid2guide", helpHintTarget(root, []string{"--badflag"}))
	require.Equal(t, "vid2guide", helpHintTarget(root, []string{"badcmd"}))
	require.Equal(t, "vid2guide system-info", helpHintTarget(root, []string{"system-info"}))
	require.Equal(t, "vid2guide version", helpHintTarget(root, []string{"version"}))
}
