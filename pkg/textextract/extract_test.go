package textextract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	t.Parallel()

	data := []byte("  The derivative measures instantaneous change.\n")
	got, err := Extract(bytes.NewReader(data), int64(len(data)), ".txt")

	require.NoError(t, err)
	assert.Equal(t, "The derivative measures instantaneous change.", got)
}

func TestExtractMarkdownPassthrough(t *testing.T) {
	t.Parallel()

	data := []byte("# Limits\n\nA limit describes approach behavior.")
	got, err := Extract(bytes.NewReader(data), int64(len(data)), "text/markdown")

	require.NoError(t, err)
	assert.Equal(t, "# Limits\n\nA limit describes approach behavior.", got)
}

func TestExtractDOCXParagraphs(t *testing.T) {
	t.Parallel()

	docXML := `<?xml version="1.0"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` +
		`<w:p><w:r><w:t>Chain rule basics.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Worked examples.</w:t></w:r></w:p>` +
		`</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(docXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got, err := Extract(bytes.NewReader(buf.Bytes()), int64(buf.Len()), ".docx")

	require.NoError(t, err)
	assert.Equal(t, "Chain rule basics.\n\nWorked examples.", got)
}

func TestExtractDOCXMissingDocument(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte("<styles/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract(bytes.NewReader(buf.Bytes()), int64(buf.Len()), "docx")
	assert.Error(t, err)
}

func TestExtractRejectsUnknownType(t *testing.T) {
	t.Parallel()

	data := []byte("payload")
	_, err := Extract(bytes.NewReader(data), int64(len(data)), ".exe")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestSupportedTypesIncludesMarkdown(t *testing.T) {
	t.Parallel()

	assert.Contains(t, SupportedTypes(), ".md")
}
