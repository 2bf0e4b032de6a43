package docparse

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// extractXLSX renders every sheet in workbook order as tab separated rows.
func extractXLSX(data []byte) (string, error) {
	if _, err := openArchive(FormatXLSX, data); err != nil {
		return "", err
	}
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", corrupt(FormatXLSX, err)
	}
	defer workbook.Close()

	var b strings.Builder
	for _, sheet := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return "", corrupt(FormatXLSX, fmt.Errorf("sheet %q: %w", sheet, err))
		}
		fmt.Fprintf(&b, "[Sheet: %s]\n", sheet)
		for _, row := range rows {
			end := len(row)
			for end > 0 && strings.TrimSpace(row[end-1]) == "" {
				end--
			}
			if end == 0 {
				continue
			}
			cells := make([]string, end)
			for i, cell := range row[:end] {
				cells[i] = strings.Join(strings.Fields(cell), " ")
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// extractPDF returns the text layer of every page in order. Scanned PDFs without
// a text layer yield an empty string rather than an error.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", corrupt(FormatPDF, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", corrupt(FormatPDF, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", corrupt(FormatPDF, err)
	}
	body, err := io.ReadAll(plain)
	if err != nil {
		return "", corrupt(FormatPDF, err)
	}
	return string(body), nil
}

// decodeText accepts UTF-8 (with or without BOM), BOM-marked UTF-16 and
// falls back to GB18030 for legacy encoded files.
func decodeText(data []byte) (string, error) {
	if hasUTF8BOM(data) {
		data = data[len(utf8BOM):]
	}
	if utf8.Valid(data) {
		return string(data), nil
	}

	decoder := unicode.BOMOverride(simplifiedchinese.GB18030.NewDecoder())
	decoded, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", corrupt(FormatText, err)
	}
	return string(decoded), nil
}
