package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantarc/matchbook/internal/book"
	"github.com/quantarc/matchbook/internal/domain"
)

func testCommands() []domain.Command {
	return []domain.Command{
		{Kind: domain.CmdNew, Owner: 1, ID: 1, Side: domain.Sell, Price: 100, Qty: 5, TIF: domain.GTC},
		{Kind: domain.CmdNew, Owner: 2, ID: 2, Side: domain.Buy, Price: 100, Qty: 3, TIF: domain.IOC, PostOnly: false, ReduceOnly: true},
		{Kind: domain.CmdNew, Owner: 3, ID: 3, Side: domain.Buy, Price: 95, Qty: 7, TIF: domain.FOK, PostOnly: true},
		{Kind: domain.CmdReplace, Owner: 1, ID: 1, Price: domain.PriceNone, QtyDelta: -2},
		{Kind: domain.CmdReplace, Owner: 1, ID: 1, Price: 105, QtyDelta: 4},
		{Kind: domain.CmdCancel, Owner: 1, ID: 1},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	for _, cmd := range testCommands() {
		var rec [RecordSize]byte
		EncodeRecord(cmd, rec[:])
		got, err := DecodeRecord(rec[:])
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}
}

func TestDecodeRejectsCorruptRecord(t *testing.T) {
	var rec [RecordSize]byte
	EncodeRecord(testCommands()[0], rec[:])

	bad := rec
	bad[0] = 0xFF // kind
	_, err := DecodeRecord(bad[:])
	assert.Error(t, err)

	bad = rec
	bad[9] = 9 // side
	_, err = DecodeRecord(bad[:])
	assert.Error(t, err)

	bad = rec
	bad[10] = 7 // tif
	_, err = DecodeRecord(bad[:])
	assert.Error(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.wal")
	w, err := NewWriter(path, 0, zap.NewNop())
	require.NoError(t, err)

	cmds := testCommands()
	for _, cmd := range cmds {
		require.NoError(t, w.Append(cmd))
	}
	require.NoError(t, w.Close())

	got, err := ReadAll(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, cmds, got)
}

func TestPartialTailRecordIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.wal")
	w, err := NewWriter(path, 0, zap.NewNop())
	require.NoError(t, err)
	cmds := testCommands()
	for _, cmd := range cmds {
		require.NoError(t, w.Append(cmd))
	}
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: half a record at the tail.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, RecordSize/2))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := ReadAll(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, cmds, got, "partial tail must be treated as absent")
}

func TestMidStreamCorruptionFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.wal")
	w, err := NewWriter(path, 0, zap.NewNop())
	require.NoError(t, err)
	for _, cmd := range testCommands() {
		require.NoError(t, w.Append(cmd))
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[RecordSize] = 0xFF // kind byte of the second record
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = ReadAll(path, zap.NewNop())
	assert.Error(t, err)
}

func bookConfig() book.Config {
	return book.Config{Tick: 1, PriceMin: 0, PriceMax: 1000, MaxOrders: 1000}
}

func TestReplayMatchesDirectApply(t *testing.T) {
	direct, err := book.New(bookConfig())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "commands.wal")
	w, err := NewWriter(path, 0, zap.NewNop())
	require.NoError(t, err)
	for _, cmd := range testCommands() {
		require.NoError(t, w.Append(cmd))
		direct.Apply(cmd)
	}
	require.NoError(t, w.Close())

	replayed, err := book.New(bookConfig())
	require.NoError(t, err)
	n, err := Replay(path, replayed, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, len(testCommands()), n)

	assert.Equal(t, direct.ComputeStateHash(), replayed.ComputeStateHash())
	assert.Equal(t, direct.Counters(), replayed.Counters())
}

func TestSnapshotThenWALRecovery(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "book.snap")
	walPath := filepath.Join(dir, "commands.wal")
	log := zap.NewNop()

	cmds := testCommands()
	cut := 3

	// Reference: the whole stream applied directly.
	full, err := book.New(bookConfig())
	require.NoError(t, err)
	for _, cmd := range cmds {
		full.Apply(cmd)
	}

	// Producer: snapshot after the prefix, journal the suffix.
	live, err := book.New(bookConfig())
	require.NoError(t, err)
	for _, cmd := range cmds[:cut] {
		live.Apply(cmd)
	}
	require.NoError(t, SaveSnapshot(snapPath, live, log))

	w, err := NewWriter(walPath, 0, log)
	require.NoError(t, err)
	for _, cmd := range cmds[cut:] {
		require.NoError(t, w.Append(cmd))
		live.Apply(cmd)
	}
	require.NoError(t, w.Close())

	// Consumer: snapshot + WAL reproduces the full-stream state.
	recovered, err := book.New(bookConfig())
	require.NoError(t, err)
	n, err := Recover(snapPath, walPath, recovered, log)
	require.NoError(t, err)
	assert.Equal(t, len(cmds)-cut, n)

	assert.Equal(t, full.ComputeStateHash(), recovered.ComputeStateHash())
	assert.Equal(t, live.ComputeStateHash(), recovered.ComputeStateHash())
	assert.Equal(t, full.Counters(), recovered.Counters())
}

func TestRecoverWithMissingFiles(t *testing.T) {
	bk, err := book.New(bookConfig())
	require.NoError(t, err)
	n, err := Recover(filepath.Join(t.TempDir(), "none.snap"), filepath.Join(t.TempDir(), "none.wal"), bk, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)
}
