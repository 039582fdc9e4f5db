package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSProviderRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), []byte("payload"), 0o644))

	p := NewFSProvider(dir)

	data, err := p.Read(context.Background(), "sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = p.Read(context.Background(), "sub/missing.txt")
	assert.Error(t, err)
}

func TestFSProviderRejectsEscapingIDs(t *testing.T) {
	p := NewFSProvider(t.TempDir())

	for _, id := range []string{"../outside", "..", "/etc/hostname", "sub/../../outside"} {
		_, err := p.Read(context.Background(), id)
		assert.Error(t, err, "id %q should be rejected", id)
	}
}

func TestProvidersHonorContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFSProvider(t.TempDir()).Read(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = MapProvider{"a": []byte("x")}.Read(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapProviderMissingID(t *testing.T) {
	_, err := MapProvider{}.Read(context.Background(), "nope")
	assert.Error(t, err)
}
