// Package docparse extracts normalized plaintext from office documents, PDFs and text files.
package docparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// Format is the closed set of supported input formats.
type Format string

const (
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatPPTX Format = "pptx"
	FormatPDF  Format = "pdf"
	FormatText Format = "text"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside the supported set.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrCorruptFile is returned when the underlying decoder cannot read the file.
	ErrCorruptFile = errors.New("corrupt document")
)

const (
	// DefaultMaxChars is the extraction budget used when none is configured.
	DefaultMaxChars = 60000

	truncationMarker = "\n\n[... content truncated: %d of %d characters kept]"
	maxArchiveBytes  = 256 << 20
)

// FormatFromExtension maps a declared extension (with or without the dot) to a Format.
func FormatFromExtension(ext string) (Format, error) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	switch normalized {
	case "docx":
		return FormatDOCX, nil
	case "xlsx":
		return FormatXLSX, nil
	case "pptx":
		return FormatPPTX, nil
	case "pdf":
		return FormatPDF, nil
	case "txt", "text", "md":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Document is the extraction result for one file.
type Document struct {
	Path      string `json:"path"`
	Format    Format `json:"format"`
	Text      string `json:"text"`
	Checksum  string `json:"checksum"`
	Size      int64  `json:"size"`
	Chars     int    `json:"chars"`
	Truncated bool   `json:"truncated"`
}

// Parser extracts text under a character budget. It holds no mutable state.
type Parser struct {
	maxChars int
}

// New returns a parser truncating output at maxChars runes.
func New(maxChars int) *Parser {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Parser{maxChars: maxChars}
}

// MaxChars returns the configured extraction budget.
func (p *Parser) MaxChars() int {
	return p.maxChars
}

// Parse extracts plaintext from path. When declaredExt is empty the path extension is used.
func (p *Parser) Parse(path, declaredExt string) (Document, error) {
	if declaredExt == "" {
		declaredExt = filepath.Ext(path)
	}
	format, err := FormatFromExtension(declaredExt)
	if err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}

	text, err := p.extract(format, data)
	if err != nil {
		return Document{}, err
	}

	checksum := sha256.Sum256(data)
	text, total, truncated := p.truncate(normalizeText(text))
	return Document{
		Path:      path,
		Format:    format,
		Text:      text,
		Checksum:  hex.EncodeToString(checksum[:]),
		Size:      int64(len(data)),
		Chars:     total,
		Truncated: truncated,
	}, nil
}

func (p *Parser) extract(format Format, data []byte) (string, error) {
	switch format {
	case FormatDOCX:
		if err := expectMIME(data, "application/zip"); err != nil {
			return "", err
		}
		return extractDOCX(data)
	case FormatXLSX:
		if err := expectMIME(data, "application/zip"); err != nil {
			return "", err
		}
		return extractXLSX(data)
	case FormatPPTX:
		if err := expectMIME(data, "application/zip"); err != nil {
			return "", err
		}
		return extractPPTX(data)
	case FormatPDF:
		if err := expectMIME(data, "application/pdf"); err != nil {
			return "", err
		}
		return extractPDF(data)
	case FormatText:
		return decodeText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// expectMIME sniffs the payload and requires expected somewhere in its type hierarchy.
func expectMIME(data []byte, expected string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty file", ErrCorruptFile)
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: content is %s, expected %s", ErrCorruptFile, detected.String(), expected)
}

func (p *Parser) truncate(text string) (string, int, bool) {
	total := utf8.RuneCountInString(text)
	if total <= p.maxChars {
		return text, total, false
	}
	runes := []rune(text)
	return string(runes[:p.maxChars]) + fmt.Sprintf(truncationMarker, p.maxChars, total), total, true
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func corrupt(format Format, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptFile, format, err)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func hasUTF8BOM(data []byte) bool {
	return bytes.HasPrefix(data, utf8BOM)
}
