package textextract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// SupportedTypes lists the file extensions Extract accepts.
func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt", ".md"}
}

// Extract pulls plain text out of an uploaded document. fileType may be a
// file extension or a MIME type. Markdown is passed through as-is; its
// structure survives prose chunking.
func Extract(r io.ReaderAt, size int64, fileType string) (string, error) {
	switch normalizeType(fileType) {
	case "pdf":
		return fromPDF(r, size)
	case "docx":
		return fromDOCX(r, size)
	case "txt", "md":
		return fromPlain(r, size)
	default:
		return "", fmt.Errorf("unsupported file type: %s", fileType)
	}
}

func normalizeType(fileType string) string {
	t := strings.ToLower(strings.TrimPrefix(fileType, "."))
	switch t {
	case "application/pdf":
		return "pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "text/plain":
		return "txt"
	case "text/markdown", "markdown":
		return "md"
	}
	return t
}

func fromPDF(r io.ReaderAt, size int64) (string, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail to decode are skipped rather than failing
			// the whole document.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

func fromDOCX(r io.ReaderAt, size int64) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("open DOCX: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()
		return flattenWordXML(rc)
	}
	return "", fmt.Errorf("no document.xml in archive")
}

// flattenWordXML walks the token stream collecting character data,
// turning paragraph ends into blank lines so downstream chunking sees
// the document's structure.
func flattenWordXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				sb.WriteString("\n\n")
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func fromPlain(r io.ReaderAt, size int64) (string, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return "", fmt.Errorf("read file: %w", err)
	}
	return strings.TrimSpace(string(buf)), nil
}
