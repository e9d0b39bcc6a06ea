package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestSimulateFitPredict(t *testing.T) {
	t.Setenv("CF_NUM_TREES", "10")
	t.Setenv("CF_NUM_WORKERS", "2")
	t.Setenv("LOG_LEVEL", "ERROR")
	dir := t.TempDir()
	data := filepath.Join(dir, "trial.csv")
	snapshot := filepath.Join(dir, "forest.json")

	out := run(t, "simulate", "--rows", "600", "--scenario", "constant", "--out", data)
	assert.Contains(t, out, "wrote 600 rows")

	out = run(t, "fit", data, "--out", snapshot, "--seed", "3")
	assert.Contains(t, out, "average treatment effect")
	assert.Contains(t, out, "x0")
	_, err := os.Stat(snapshot)
	require.NoError(t, err)

	out = run(t, "predict", snapshot, data, "--features", "x0,x1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "tau", lines[0])
	assert.Len(t, lines, 601)

	preds := filepath.Join(dir, "preds.xlsx")
	run(t, "predict", snapshot, data, "--features", "x0,x1", "--variance", "--out", preds)
	_, err = os.Stat(preds)
	assert.NoError(t, err)
}

func TestSimulateRejectsUnknownScenario(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"simulate", "--scenario", "bogus", "--out", filepath.Join(t.TempDir(), "x.csv")})
	assert.Error(t, cmd.Execute())
}
