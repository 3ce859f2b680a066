package rag

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText returns the text content of a downloaded source document.
// PDFs are read through their text layer; plain text and markdown pass
// through unchanged.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read document %s: %w", path, err)
		}
		return string(data), nil
	case ".pdf":
		return extractPDFText(path)
	default:
		return "", fmt.Errorf("unsupported document type %q", filepath.Ext(path))
	}
}

func extractPDFText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", path, err)
	}
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", path, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
