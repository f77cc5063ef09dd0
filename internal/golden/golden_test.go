package golden

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lineA = "seed=1 ops=10 acks=4 rejects=0 trades=2 reduced=1 canceled=1 filled=2 tQty=5 tNotional=500 tChk=123 eHash=456 resting=2 restingLots=7 bestBid=99 bestAsk=101"
const lineB = "seed=2 ops=10 acks=3 rejects=1 trades=1 reduced=0 canceled=2 filled=1 tQty=2 tNotional=200 tChk=77 eHash=88 resting=1 restingLots=3 bestBid=95 bestAsk=-1"

func TestSeedOf(t *testing.T) {
	seed, err := SeedOf(lineA)
	require.NoError(t, err)
	assert.EqualValues(t, 1, seed)

	_, err = SeedOf("ops=10 acks=4")
	assert.Error(t, err)

	_, err = SeedOf("seed=abc ops=10")
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden.txt")

	db := DB{}
	require.NoError(t, db.Update(lineB))
	require.NoError(t, db.Update(lineA))
	require.NoError(t, db.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, db, loaded)

	// Entries are sorted by seed on disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, lineA+"\n"+lineB+"\n", string(data))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	db, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	assert.Empty(t, db)
}

func TestLoadSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden.txt")
	content := "# golden snapshot database\n\n" + lineA + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	db, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, db, 1)
}

func TestCheck(t *testing.T) {
	db := DB{}
	require.NoError(t, db.Update(lineA))

	ok, want, err := db.Check(lineA)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lineA, want)

	// Same seed, different fingerprint.
	changed := lineA[:len(lineA)-1] + "2"
	ok, want, err = db.Check(changed)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, lineA, want)

	// Unknown seed.
	ok, want, err = db.Check(lineB)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, want)
}

func TestUpdateOverwrites(t *testing.T) {
	db := DB{}
	require.NoError(t, db.Update(lineA))
	changed := lineA[:len(lineA)-1] + "2"
	require.NoError(t, db.Update(changed))
	assert.Len(t, db, 1)
	assert.Equal(t, changed, db[1])
}
