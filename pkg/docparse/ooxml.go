package docparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func openArchive(format Format, data []byte) (*zip.Reader, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corrupt(format, err)
	}
	var totalUncompressed uint64
	for _, f := range reader.File {
		totalUncompressed += f.UncompressedSize64
		if totalUncompressed > maxArchiveBytes {
			return nil, corrupt(format, errors.New("archive uncompressed size too large"))
		}
	}
	return reader, nil
}

func readArchiveEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxArchiveBytes))
}

func extractDOCX(data []byte) (string, error) {
	reader, err := openArchive(FormatDOCX, data)
	if err != nil {
		return "", err
	}
	for _, f := range reader.File {
		if f.Name != "word/document.xml" {
			continue
		}
		body, err := readArchiveEntry(f)
		if err != nil {
			return "", corrupt(FormatDOCX, err)
		}
		text, err := extractMarkup(body)
		if err != nil {
			return "", corrupt(FormatDOCX, err)
		}
		return text, nil
	}
	return "", corrupt(FormatDOCX, errors.New("word/document.xml not found"))
}

func extractPPTX(data []byte) (string, error) {
	reader, err := openArchive(FormatPPTX, data)
	if err != nil {
		return "", err
	}

	type slide struct {
		number int
		file   *zip.File
	}
	var slides []slide
	for _, f := range reader.File {
		match := slidePattern.FindStringSubmatch(f.Name)
		if match == nil {
			continue
		}
		number, _ := strconv.Atoi(match[1])
		slides = append(slides, slide{number: number, file: f})
	}
	if len(slides) == 0 {
		return "", corrupt(FormatPPTX, errors.New("no slides found"))
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	var b strings.Builder
	for _, s := range slides {
		body, err := readArchiveEntry(s.file)
		if err != nil {
			return "", corrupt(FormatPPTX, err)
		}
		text, err := extractMarkup(body)
		if err != nil {
			return "", corrupt(FormatPPTX, fmt.Errorf("slide %d: %w", s.number, err))
		}
		fmt.Fprintf(&b, "[Slide %d]\n%s\n\n", s.number, text)
	}
	return b.String(), nil
}

// tableState accumulates one (possibly nested) table while walking markup.
type tableState struct {
	rows   [][]string
	row    []string
	cell   strings.Builder
	inCell bool
}

func (t *tableState) render() string {
	lines := make([]string, 0, len(t.rows))
	for _, row := range t.rows {
		lines = append(lines, strings.Join(row, "\t"))
	}
	return strings.Join(lines, "\n")
}

// markupWalker renders WordprocessingML and DrawingML text in document order.
// Only run text is kept; drawings, pictures and field codes contribute nothing.
type markupWalker struct {
	out    strings.Builder
	tables []*tableState
	inText bool
	inRun  int
}

func (w *markupWalker) current() *tableState {
	if len(w.tables) == 0 {
		return nil
	}
	top := w.tables[len(w.tables)-1]
	if !top.inCell {
		return nil
	}
	return top
}

func (w *markupWalker) write(s string) {
	if cell := w.current(); cell != nil {
		cell.cell.WriteString(s)
		return
	}
	w.out.WriteString(s)
}

// separator writes a line break, or a space when inside a table cell.
func (w *markupWalker) separator() {
	if cell := w.current(); cell != nil {
		if cell.cell.Len() > 0 {
			cell.cell.WriteString(" ")
		}
		return
	}
	w.out.WriteString("\n")
}

func (w *markupWalker) start(name string) {
	switch name {
	case "tbl":
		w.tables = append(w.tables, &tableState{})
	case "tr":
		if len(w.tables) > 0 {
			w.tables[len(w.tables)-1].row = nil
		}
	case "tc":
		if len(w.tables) > 0 {
			top := w.tables[len(w.tables)-1]
			top.inCell = true
			top.cell.Reset()
		}
	case "r":
		w.inRun++
	case "t":
		w.inText = true
	case "tab":
		// tab stops in paragraph properties share the element name
		if w.inRun == 0 {
			return
		}
		if w.current() != nil {
			w.write(" ")
		} else {
			w.write("\t")
		}
	case "br", "cr":
		w.separator()
	}
}

func (w *markupWalker) end(name string) {
	switch name {
	case "r":
		if w.inRun > 0 {
			w.inRun--
		}
	case "t":
		w.inText = false
	case "p":
		w.separator()
	case "tc":
		if len(w.tables) > 0 {
			top := w.tables[len(w.tables)-1]
			top.row = append(top.row, strings.Join(strings.Fields(top.cell.String()), " "))
			top.inCell = false
		}
	case "tr":
		if len(w.tables) > 0 {
			top := w.tables[len(w.tables)-1]
			top.rows = append(top.rows, top.row)
			top.row = nil
		}
	case "tbl":
		if len(w.tables) == 0 {
			return
		}
		done := w.tables[len(w.tables)-1]
		w.tables = w.tables[:len(w.tables)-1]
		rendered := done.render()
		if w.current() != nil {
			// nested tables collapse into the enclosing cell
			w.write(strings.Join(strings.Fields(rendered), " "))
			return
		}
		w.write(rendered)
		w.write("\n")
	}
}

func extractMarkup(body []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	walker := &markupWalker{}
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := token.(type) {
		case xml.StartElement:
			walker.start(el.Name.Local)
		case xml.EndElement:
			walker.end(el.Name.Local)
		case xml.CharData:
			if walker.inText {
				walker.write(string(el))
			}
		}
	}
	return walker.out.String(), nil
}
