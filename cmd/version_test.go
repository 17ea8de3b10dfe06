package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/jerome-ceccato/andre/andre"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := andre.Version
	originalCommitSHA := andre.CommitSHA
	originalBuildTime := andre.BuildTime

	t.Cleanup(
		func() {
			andre.Version = originalVersion
			andre.CommitSHA = originalCommitSHA
			andre.BuildTime = originalBuildTime
		},
	)

	andre.Version = "20240102"
	andre.CommitSHA = "abc123"
	andre.BuildTime = "2024-01-02T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		andre.Version,
		andre.CommitSHA,
		andre.BuildTime,
	)
	assert.Equal(t, expected, string(out))
}
