package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_SaveAndRead(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())
	ctx := context.Background()

	t.Run("creates parent directories", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "receipts/co-1/exp-1/taxi.pdf", []byte("PDF")))
		assert.FileExists(t, filepath.Join(tempDir, "receipts", "co-1", "exp-1", "taxi.pdf"))

		content, err := fs.Read(ctx, "receipts/co-1/exp-1/taxi.pdf")
		require.NoError(t, err)
		assert.Equal(t, []byte("PDF"), content)
		assert.True(t, fs.Exists(ctx, "receipts/co-1/exp-1/taxi.pdf"))
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "a.txt", []byte("original")))
		require.NoError(t, fs.Save(ctx, "a.txt", []byte("updated")))

		content, err := os.ReadFile(filepath.Join(tempDir, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, []byte("updated"), content)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "gone.txt", []byte("x")))
		require.NoError(t, fs.Delete(ctx, "gone.txt"))
		require.NoError(t, fs.Delete(ctx, "gone.txt"))
		assert.False(t, fs.Exists(ctx, "gone.txt"))
	})

	t.Run("directories are not files", func(t *testing.T) {
		assert.False(t, fs.Exists(ctx, "receipts"))
	})
}

func TestLocalFileStorage_RejectsEscapes(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(filepath.Join(tempDir, "base"), zap.NewNop())
	ctx := context.Background()

	for _, p := range []string{"../outside.txt", "../../etc/passwd", "../base_malicious/x", ""} {
		t.Run(p, func(t *testing.T) {
			err := fs.Save(ctx, p, []byte("x"))
			assert.ErrorIs(t, err, ErrPathEscapes)
		})
	}
}

