// Package locator resolves file references produced by the teacher-side upload
// service into paths on the shared filesystem.
package locator

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// ErrNotFound is matched by every resolution failure.
var ErrNotFound = errors.New("file reference not found")

// NotFoundError lists every candidate path that was checked.
type NotFoundError struct {
	Reference string
	Tried     []string
}

func (e *NotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("file reference %q not found", e.Reference)
	}
	return fmt.Sprintf("file reference %q not found (tried %s)", e.Reference, strings.Join(e.Tried, ", "))
}

// Is makes errors.Is(err, ErrNotFound) work.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

var drivePattern = regexp.MustCompile(`^[A-Za-z]:/`)

// minSuffixSegments keeps the legacy suffix pass from matching on a bare file name.
const minSuffixSegments = 2

// Locator checks references against an ordered list of search roots. It never creates files.
type Locator struct {
	roots []string
}

// New returns a Locator. Empty roots are ignored; order is priority order.
func New(roots []string) *Locator {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}
	return &Locator{roots: cleaned}
}

// Roots returns the configured search roots.
func (l *Locator) Roots() []string {
	out := make([]string, len(l.roots))
	copy(out, l.roots)
	return out
}

// Resolve returns an absolute path for ref.
//
// Order: the normalized reference itself when absolute, then the reference joined
// against each root, then progressively shorter trailing segments of the reference
// against each root (legacy references that embed another host's directory layout).
func (l *Locator) Resolve(ref string) (string, error) {
	normalized, absolute := normalize(ref)
	if normalized == "" || normalized == "." {
		return "", &NotFoundError{Reference: ref}
	}

	tried := make([]string, 0, len(l.roots)+1)
	seen := make(map[string]struct{})
	check := func(candidate string) bool {
		if _, ok := seen[candidate]; ok {
			return false
		}
		seen[candidate] = struct{}{}
		tried = append(tried, candidate)
		return isRegularFile(candidate)
	}

	if absolute {
		candidate := filepath.FromSlash(normalized)
		if check(candidate) {
			return candidate, nil
		}
	}

	segments := relativeSegments(normalized)
	if len(segments) == 0 {
		return "", &NotFoundError{Reference: ref, Tried: tried}
	}

	for _, root := range l.roots {
		if candidate, ok := within(root, segments); ok && check(candidate) {
			return candidate, nil
		}
	}

	for start := 1; len(segments)-start >= minSuffixSegments; start++ {
		for _, root := range l.roots {
			if candidate, ok := within(root, segments[start:]); ok && check(candidate) {
				return candidate, nil
			}
		}
	}

	return "", &NotFoundError{Reference: ref, Tried: tried}
}

// normalize converts ref to a clean slash path and reports whether it is absolute
// on this host.
func normalize(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "file://")
	ref = strings.ReplaceAll(ref, `\`, "/")
	if ref == "" {
		return "", false
	}

	if drivePattern.MatchString(ref) {
		if runtime.GOOS == "windows" {
			return path.Clean(ref), true
		}
		ref = ref[2:]
	}

	cleaned := path.Clean(ref)
	return cleaned, strings.HasPrefix(cleaned, "/")
}

// relativeSegments drops the root marker and any leading parent traversal.
func relativeSegments(normalized string) []string {
	if drivePattern.MatchString(normalized) {
		normalized = normalized[2:]
	}
	parts := strings.Split(strings.TrimLeft(normalized, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, part)
	}
	return out
}

func within(root string, segments []string) (string, bool) {
	candidate := filepath.Join(append([]string{root}, segments...)...)
	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return candidate, true
}

func isRegularFile(candidate string) bool {
	info, err := os.Stat(candidate)
	return err == nil && info.Mode().IsRegular()
}
