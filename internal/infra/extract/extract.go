// Package extract turns an uploaded financial document into plain text for the analyzer.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrNoText = errors.New("no text could be extracted")

// File reads path and extracts its text based on the extension.
func File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return PDF(data)
	}
	return Text(data)
}

func PDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("pdf: %w", ErrNoText)
	}
	return text, nil
}

// Text decodes txt/md/csv content, handling BOMs and legacy single-byte encodings.
func Text(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty file: %w", ErrNoText)
	}
	text, err := decode(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	text = clean(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func decode(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(), data)
		return string(out), err
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder(), data)
		return string(out), err
	case utf8.Valid(data):
		return string(data), nil
	}

	if out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data); err == nil {
		return string(out), nil
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	return string(out), err
}

// clean normalizes line endings and drops blank lines.
func clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
