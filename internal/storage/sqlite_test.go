package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollno10/crossContractObfuscation/internal/selector"
)

func TestLedger_RecordAndList(t *testing.T) {
	ctx := context.Background()
	l, err := Open(filepath.Join(t.TempDir(), "db", "ccobf.db"))
	require.NoError(t, err)
	defer l.Close()

	reg := selector.NewRegistry()
	transfer, err := reg.Register("transfer(address,uint256)", 0xdeadbeef, "0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	_, err = reg.Register("deposit(uint256)", 7, "")
	require.NoError(t, err)

	started := time.Unix(1_700_000_000, 0)
	first, err := l.RecordRun(ctx, Run{StartedAt: started, Input: "contracts", Seed: 42, Units: 3, Changed: 2}, reg.Snapshot())
	require.NoError(t, err)
	second, err := l.RecordRun(ctx, Run{StartedAt: started.Add(time.Minute), Input: "other", Failed: 1}, nil)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	runs, err := l.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, "contracts", runs[1].Input)
	assert.Equal(t, uint64(42), runs[1].Seed)
	assert.Equal(t, 2, runs[1].Selectors)
	assert.True(t, started.Equal(runs[1].StartedAt))

	limited, err := l.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	rows, err := l.Selectors(ctx, first)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, reg.Keys(), []string{rows[0].Selector, rows[1].Selector})

	found, err := l.FindSignature(ctx, transfer.Hex())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "transfer(address,uint256)", found[0].FunctionSignature)

	none, err := l.Selectors(ctx, second)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccobf.db")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.RecordRun(context.Background(), Run{StartedAt: time.Now(), Input: "a"}, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	runs, err := l.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
