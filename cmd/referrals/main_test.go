package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []resultRow {
	return []resultRow{
		{UserAddress: "0x1111111111111111111111111111111111111111", ReferrerID: "acme", Timestamp: 1_700_000_000},
		{UserAddress: "0x2222222222222222222222222222222222222222", ReferrerID: "globex", Timestamp: 1_700_000_100},
	}
}

func TestWriteResults_CSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeResults(path, sampleRows()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"user_address,referrer_id,timestamp\n"+
			"0x1111111111111111111111111111111111111111,acme,1700000000\n"+
			"0x2222222222222222222222222222222222222222,globex,1700000100\n",
		string(data))
}

func TestWriteResults_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeResults(path, sampleRows()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []resultRow
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sampleRows(), got)
}

func TestWriteResults_RejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	err := writeResults(filepath.Join(t.TempDir(), "out.xml"), sampleRows())
	require.Error(t, err)
}
