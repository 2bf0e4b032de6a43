package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/teaching-eval-scoring/internal/locator"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/pkg/docparse"
)

// DocumentLoader turns file references into parsed documents.
type DocumentLoader interface {
	Load(ctx context.Context, taskID string, references []string) ([]docparse.Document, error)
}

type documentLoader struct {
	locator *locator.Locator
	parser  *docparse.Parser
	cache   ParseCache
	logger  zerolog.Logger
}

// NewDocumentLoader wires the locator, parser and optional parse cache.
func NewDocumentLoader(loc *locator.Locator, parser *docparse.Parser, cache ParseCache, logger zerolog.Logger) DocumentLoader {
	if cache == nil {
		cache = noopParseCache{}
	}
	return &documentLoader{
		locator: loc,
		parser:  parser,
		cache:   cache,
		logger:  logger.With().Str("component", "document_loader").Logger(),
	}
}

// Load resolves and parses every reference in order and fails on the first file that cannot be
// located or decoded.
func (l *documentLoader) Load(ctx context.Context, taskID string, references []string) ([]docparse.Document, error) {
	if len(references) == 0 {
		return nil, scoring.NewError(scoring.KindInputUnavailable, taskID, "task has no file references", nil)
	}

	docs := make([]docparse.Document, 0, len(references))
	for _, ref := range references {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := l.locator.Resolve(ref)
		if err != nil {
			var notFound *locator.NotFoundError
			if errors.As(err, &notFound) {
				l.logger.Warn().Str("task_id", taskID).Str("reference", ref).Strs("tried", notFound.Tried).Msg("file reference not found")
			}
			return nil, scoring.NewError(scoring.KindInputUnavailable, taskID, fmt.Sprintf("file %q could not be located", ref), err)
		}

		doc, err := l.parse(ctx, path, ref)
		if err != nil {
			return nil, scoring.NewError(scoring.KindInputUnavailable, taskID, fmt.Sprintf("file %q could not be parsed", ref), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *documentLoader) parse(ctx context.Context, path, ref string) (docparse.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return docparse.Document{}, err
	}
	key := ParseCacheKey{Path: path, Size: info.Size(), ModTime: info.ModTime(), MaxChars: l.parser.MaxChars()}
	if doc, ok := l.cache.Get(ctx, key); ok {
		return doc, nil
	}

	// The declared extension comes from the reference; the resolved path may differ in case.
	doc, err := l.parser.Parse(path, filepath.Ext(strings.ReplaceAll(ref, `\`, "/")))
	if err != nil {
		return docparse.Document{}, err
	}
	if doc.Truncated {
		l.logger.Info().Str("path", path).Int("chars", doc.Chars).Int("budget", l.parser.MaxChars()).Msg("extracted text truncated")
	}
	l.cache.Put(ctx, key, doc)
	return doc, nil
}

// JoinDocuments concatenates parsed texts with a separator line naming each file.
func JoinDocuments(docs []docparse.Document) string {
	var b strings.Builder
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "===== File: %s =====\n", filepath.Base(doc.Path))
		b.WriteString(doc.Text)
	}
	return b.String()
}

// DocumentHashes returns the content checksums used for the input fingerprint.
func DocumentHashes(docs []docparse.Document) []string {
	hashes := make([]string, 0, len(docs))
	for _, doc := range docs {
		hashes = append(hashes, doc.Checksum)
	}
	return hashes
}
