package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/binscore/internal/config"
	"github.com/cvalentine99/binscore/internal/events"
	"github.com/cvalentine99/binscore/internal/features"
	"github.com/cvalentine99/binscore/internal/models"
	"github.com/cvalentine99/binscore/internal/scanner"
	"github.com/cvalentine99/binscore/test/fixtures"
)

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0700))
	a := filepath.Join(dir, "a.exe")
	b := filepath.Join(dir, "sub", "b.dll")
	require.NoError(t, os.WriteFile(a, []byte("MZ"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("MZ"), 0600))

	paths, err := expandPaths([]string{dir}, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, paths)

	paths, err = expandPaths([]string{dir, "missing"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{dir, "missing"}, paths)
}

func TestReadVector(t *testing.T) {
	vec, err := readVector(strings.NewReader("[0, 0.5, 1]"), "-")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, vec)

	path := filepath.Join(t.TempDir(), "v.json")
	require.NoError(t, os.WriteFile(path, []byte("[2]"), 0600))
	vec, err = readVector(nil, path)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, vec)

	_, err = readVector(strings.NewReader(`{"not":"array"}`), "-")
	assert.Error(t, err)
}

func TestExtractFeatures(t *testing.T) {
	path := fixtures.WriteFile(t, "sample.exe", fixtures.MinimalPE())

	dump, err := extractFeatures(path, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "pe", dump.Format)
	assert.Empty(t, dump.ParseError)
	assert.Len(t, dump.Vector, features.DefaultDimension)
	assert.Equal(t, features.LayoutVersion, dump.Layout)

	dump, err = extractFeatures(path, nil, 600)
	require.NoError(t, err)
	assert.Len(t, dump.Vector, 600)

	_, err = extractFeatures(path, nil, 100)
	var le *features.LayoutError
	assert.ErrorAs(t, err, &le)

	_, err = extractFeatures(t.TempDir(), nil, 0)
	assert.ErrorIs(t, err, scanner.ErrNotRegular)
}

func TestFeaturesCommand(t *testing.T) {
	path := fixtures.WriteFile(t, "blob.bin", fixtures.RandomBytes(4096))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"features", "--log-level", "error", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	require.NoError(t, rootCmd.Execute())

	var dump featureDump
	require.NoError(t, json.Unmarshal(out.Bytes(), &dump))
	assert.Equal(t, path, dump.Path)
	assert.NotEmpty(t, dump.ParseError)
	assert.Len(t, dump.Vector, features.DefaultDimension)
}

func TestModelCommand_LoadError(t *testing.T) {
	rootCmd.SetArgs([]string{"model", "--log-level", "error", "--model", filepath.Join(t.TempDir(), "absent.txt")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	assert.Error(t, rootCmd.Execute())
}

func TestModelConfig(t *testing.T) {
	c := config.Default()
	c.Model.Path = "/m.onnx"
	c.Model.Format = "onnx"
	c.Model.InputDimension = 2381
	c.Model.ONNX.PoolSize = 8

	mc := modelConfig(c)
	assert.Equal(t, "/m.onnx", mc.Path)
	assert.Equal(t, "onnx", string(mc.Format))
	assert.Equal(t, 2381, mc.InputDimension)
	assert.Equal(t, 8, mc.ONNX.PoolSize)
}

func TestOutputAndExitStatus(t *testing.T) {
	benign := &models.ScoreResult{Probability: 0.1, Verdict: models.VerdictBenign, Format: "pe"}
	partial := &models.ScoreResult{Probability: 0.3, Verdict: models.VerdictBenign, Partial: true, ParseError: "not a PE"}
	results := []scanner.PathResult{
		{Path: "a.exe", Result: benign},
		{Path: "b.bin", Result: partial},
	}

	var table bytes.Buffer
	require.NoError(t, printTable(&table, results))
	assert.Contains(t, table.String(), "a.exe")
	assert.Contains(t, table.String(), "unparsed: not a PE")

	var lines bytes.Buffer
	require.NoError(t, printJSONResults(&lines, results))
	assert.Equal(t, 2, strings.Count(lines.String(), "\n"))

	assert.NoError(t, exitStatus(results))

	results = append(results, scanner.PathResult{Path: "s.exe", Result: &models.ScoreResult{Probability: 0.6, Verdict: models.VerdictSuspicious}})
	var ee *exitError
	require.ErrorAs(t, exitStatus(results), &ee)
	assert.Equal(t, codeThreat, ee.code)

	results = append(results, scanner.PathResult{Path: "c", Err: errors.New("boom")})
	require.ErrorAs(t, exitStatus(results), &ee)
	assert.Equal(t, codeError, ee.code)
}

func TestExitStatus_ThreatEvictedFromHistory(t *testing.T) {
	rec := events.NewRecorder(1)
	results := []scanner.PathResult{
		{Path: "evil.exe", Result: &models.ScoreResult{Probability: 0.95, Verdict: models.VerdictMalicious}},
	}
	for i := 0; i < 150; i++ {
		results = append(results, scanner.PathResult{
			Path:   fmt.Sprintf("clean-%d.exe", i),
			Result: &models.ScoreResult{Probability: 0.05, Verdict: models.VerdictBenign},
		})
	}
	for _, r := range results {
		rec.Record(events.FromResult(r.Result))
	}

	recent := rec.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, models.VerdictBenign, recent[0].Verdict)

	var ee *exitError
	require.ErrorAs(t, exitStatus(results), &ee)
	assert.Equal(t, codeThreat, ee.code)
	assert.Equal(t, 1, countThreats(results))
}
