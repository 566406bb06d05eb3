// Package extract turns raw knowledge source payloads (PDF uploads, plain
// text files, fetched web pages) into plain UTF-8 text ready for chunking.
package extract

import (
	"bytes"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/groundplane/groundplane/internal/domain"
)

// FromSource extracts plain text from raw bytes according to the source kind.
// URL sources are fetched and parsed elsewhere; passing one here is an error.
func FromSource(kind domain.SourceKind, raw []byte) (string, error) {
	switch kind {
	case domain.SourceKindUploadPDF:
		return PDF(raw)
	case domain.SourceKindUploadTxt, domain.SourceKindText, domain.SourceKindOther:
		// Legacy "other" payloads are decoded lossily as text.
		return PlainText(raw)
	case domain.SourceKindURL:
		return "", domain.NewExtractionError("url sources must be fetched before extraction", nil)
	default:
		return "", domain.NewExtractionError("unsupported source kind: "+string(kind), nil)
	}
}

// PDF extracts the concatenated plain text of every page in the document.
func PDF(raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", domain.NewExtractionError("failed to open pdf", err)
	}

	reader, err := r.GetPlainText()
	if err != nil {
		return "", domain.NewExtractionError("failed to extract pdf text", err)
	}

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", domain.NewExtractionError("failed to read pdf text", err)
	}

	text := Normalize(buf.String())
	if text == "" {
		return "", domain.NewExtractionError("no extractable text in pdf", nil)
	}
	return text, nil
}

// PlainText validates and normalizes a text payload.
func PlainText(raw []byte) (string, error) {
	text := Normalize(string(raw))
	if text == "" {
		return "", domain.NewExtractionError("empty text payload", nil)
	}
	return text, nil
}

// Normalize strips invalid UTF-8 sequences and NUL bytes and collapses runs
// of horizontal whitespace, preserving paragraph breaks.
func Normalize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")

	// Collapse 3+ consecutive newlines into a paragraph break.
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
