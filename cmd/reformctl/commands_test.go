package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

func TestReadBatchPicksFormatFromExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bills.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"2025 Housing Bills,Region Abbreviation ,Issues,Custom Description,Status Text,Date Introduced,Last Timeline Action Date,Source Link\n"+
			"HB 1: Test,OR,ADU,,Introduced,1/2/2025,,\n"), 0o644))

	b, err := readBatch(csvPath, "", "")
	require.NoError(t, err)
	assert.Equal(t, "mercatus", b.Source)
	assert.Len(t, b.Reforms, 1)

	jsonPath := filepath.Join(dir, "batch.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"source":"PRN","reforms":[]}`), 0o644))
	b, err = readBatch(jsonPath, "", "")
	require.NoError(t, err)
	assert.Equal(t, "PRN", b.Source)

	_, err = readBatch(jsonPath, "xml", "")
	assert.Error(t, err)
}

func TestOnlyPending(t *testing.T) {
	results := []reforms.EnrichmentResult{{ReformID: 1}, {ReformID: 2}, {ReformID: 3}}
	got := onlyPending(results, []int64{3, 1})
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ReformID)
	assert.Equal(t, int64(3), got[1].ReformID)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := (&app{}).rootCommand()
	for _, name := range []string{"migrate", "seed", "ingest", "enrich", "merge", "geocode"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestIngestRequiresFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://unused")
	t.Chdir(t.TempDir())

	root := (&app{}).rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"ingest"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}
