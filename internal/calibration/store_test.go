package calibration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ot2-calibration/internal/storage"
)

func writeTemplates(t *testing.T, dir string, deck string) {
	t.Helper()
	names := DefaultNames()
	require.NoError(t, os.WriteFile(filepath.Join(dir, names.PipetteOffsets), []byte(pipetteListing), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, names.TipLengths), []byte(tipListing), 0o644))
	if deck != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, names.Deck), []byte(deck), 0o644))
	}
}

func TestStoreLoad(t *testing.T) {
	dir := t.TempDir()
	writeTemplates(t, dir, `{"deckCalibration": {"data": {"matrix": [[1,0,0],[0,1,0],[0,0,1]], "pipetteCalibratedWith": "P20R1"}}}`)

	store := NewStore(storage.NewLocalProvider(dir), "", "", DefaultNames())
	set, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.Len(t, set.PipetteOffsets.Data, 2)
	assert.Len(t, set.TipLengths.Data, 2)
	assert.Equal(t, DeckShapeNested, set.Deck.Shape)
	assert.Equal(t, "P20R1", set.Deck.PipetteCalibratedWith)
}

func TestStoreLoadWithPrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bucket", "standard"), 0o755))
	writeTemplates(t, filepath.Join(dir, "bucket", "standard"), `{"attitude": [[1,0,0],[0,1,0],[0,0,1]]}`)

	store := NewStore(storage.NewLocalProvider(dir), "bucket", "standard", DefaultNames())
	set, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DeckShapeFlat, set.Deck.Shape)
}

func TestStoreLoadMissingDocument(t *testing.T) {
	dir := t.TempDir()
	writeTemplates(t, dir, "")

	store := NewStore(storage.NewLocalProvider(dir), "", "", DefaultNames())
	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.Contains(t, err.Error(), "deck calibration template")
}

func TestStoreLoadMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	writeTemplates(t, dir, `{"deckCalibration": []}`)

	store := NewStore(storage.NewLocalProvider(dir), "", "", DefaultNames())
	_, err := store.Load(context.Background())
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
}
