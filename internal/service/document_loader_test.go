package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-eval-scoring/internal/locator"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/pkg/docparse"
)

func TestDocumentLoaderJoinsFilesInOrder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2024", "plan.txt"), []byte("Plan body"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("Notes body"), 0o600))

	loader := NewDocumentLoader(locator.New([]string{root}), docparse.New(0), nil, zerolog.Nop())
	docs, err := loader.Load(context.Background(), "task-1", []string{`uploads\2024\plan.txt`, "notes.md"})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	joined := JoinDocuments(docs)
	require.Equal(t, "===== File: plan.txt =====\nPlan body\n\n===== File: notes.md =====\nNotes body", joined)
	require.Len(t, DocumentHashes(docs), 2)
}

func TestDocumentLoaderFailsFastOnFirstBadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "fake.docx"), []byte("not a zip"), 0o600))

	loader := NewDocumentLoader(locator.New([]string{root}), docparse.New(0), nil, zerolog.Nop())

	_, err := loader.Load(context.Background(), "task-1", []string{"fake.docx"})
	require.ErrorIs(t, err, scoring.ErrInputUnavailable)
	require.ErrorIs(t, err, docparse.ErrCorruptFile)

	_, err = loader.Load(context.Background(), "task-1", []string{"image.png"})
	require.ErrorIs(t, err, scoring.ErrInputUnavailable)
	require.ErrorIs(t, err, locator.ErrNotFound)

	_, err = loader.Load(context.Background(), "task-1", nil)
	require.ErrorIs(t, err, scoring.ErrInputUnavailable)
}

func TestDocumentLoaderUsesParseCache(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	root := t.TempDir()
	path := filepath.Join(root, "plan.txt")
	require.NoError(t, os.WriteFile(path, []byte("original text"), 0o600))
	modTime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, modTime, modTime))

	cache := NewParseCache(client, time.Minute, zerolog.Nop())
	loader := NewDocumentLoader(locator.New([]string{root}), docparse.New(0), cache, zerolog.Nop())

	docs, err := loader.Load(context.Background(), "task-1", []string{"plan.txt"})
	require.NoError(t, err)
	require.Equal(t, "original text", docs[0].Text)
	require.Len(t, mini.Keys(), 1)

	// Same size and mtime: the cached extraction is served.
	require.NoError(t, os.WriteFile(path, []byte("modified text"), 0o600))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	docs, err = loader.Load(context.Background(), "task-1", []string{"plan.txt"})
	require.NoError(t, err)
	require.Equal(t, "original text", docs[0].Text)

	// A new mtime produces a new key.
	later := modTime.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	docs, err = loader.Load(context.Background(), "task-1", []string{"plan.txt"})
	require.NoError(t, err)
	require.Equal(t, "modified text", docs[0].Text)
	require.Len(t, mini.Keys(), 2)

	mini.FastForward(2 * time.Minute)
	require.Empty(t, mini.Keys())
}

func TestParseCacheWithoutRedisIsNoop(t *testing.T) {
	cache := NewParseCache(nil, 0, zerolog.Nop())
	key := ParseCacheKey{Path: "/tmp/x", Size: 1}
	cache.Put(context.Background(), key, docparse.Document{Text: "x"})
	_, ok := cache.Get(context.Background(), key)
	require.False(t, ok)
}
