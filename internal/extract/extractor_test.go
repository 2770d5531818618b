package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainBOMAndInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("\xEF\xBB\xBFhello\x80world"), ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello�world" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetCellValue("Sheet1", "A1", "Title")
	_ = f.SetCellValue("Sheet1", "A2", "Value 1")
	_ = f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Sheet1\nTitle\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func makeDocx(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const docxBody = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p w:rsidR="00A1"><w:r><w:t>Attention is</w:t></w:r><w:r><w:t xml:space="preserve"> all you need</w:t></w:r></w:p>
<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>paragraph</w:t></w:r></w:p>
</w:body>
</w:document>`

func TestExtractBytes_docx(t *testing.T) {
	content := makeDocx(t, map[string]string{docxDocumentXMLPath: docxBody})
	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Attention is all you need\nSecond\tparagraph" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxMainPartFromContentTypes(t *testing.T) {
	contentTypes := `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>
</Types>`
	content := makeDocx(t, map[string]string{
		contentTypesPath:    contentTypes,
		"word/document2.xml": docxBody,
	})
	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.HasPrefix(got, "Attention is all you need") {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxNotZip(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("plain"), ".docx"); err == nil {
		t.Error("expected error for non-zip docx")
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a pdf"), ".pdf"); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestExtractBytes_unsupported(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("x"), ".pptx")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtract_plainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Notes.TXT")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "File content" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_errors(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor(WithMaxFileSize(4))

	if _, err := e.Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	big := filepath.Join(dir, "big.txt")
	_ = os.WriteFile(big, []byte("more than four bytes"), 0600)
	if _, err := e.Extract(big); err == nil {
		t.Error("expected error for file over size limit")
	}
	if _, err := e.Extract(dir + "/x.bin"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	e := NewExtractor()
	for _, ext := range []string{".pdf", ".PDF", ".docx", ".xlsx", ".txt", ".md"} {
		if !e.Supported(ext) {
			t.Errorf("%s should be supported", ext)
		}
	}
	for _, ext := range []string{".pptx", ".odp", ""} {
		if e.Supported(ext) {
			t.Errorf("%s should not be supported", ext)
		}
	}
}
