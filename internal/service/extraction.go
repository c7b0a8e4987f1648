package service

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"

	"waingest/internal/errors"
)

var (
	controlChars    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
	runsOfSpaces    = regexp.MustCompile(`[ \t]+`)
	runsOfBlankRows = regexp.MustCompile(`\n{3,}`)

	invoiceNumberRe = regexp.MustCompile(`(?i)invoice(?:\s*(?:number|no\.|#))?\s*[:\-]?\s*([A-Za-z0-9\-]+)`)
	invoiceDateRe   = regexp.MustCompile(`(?i)(?:invoice\s*)?date\s*[:\-]?\s*((?:\d{4}-\d{2}-\d{2})|(?:\d{2}/\d{2}/\d{4}))`)
	invoiceTotalRe  = regexp.MustCompile(`(?i)(?:total|amount due|balance due)\s*[:\-]?\s*\$?\s*([0-9]{1,3}(?:[,0-9]{0,3})*(?:\.\d{2})?)`)
)

// SanitizeText strips control characters and collapses excessive
// whitespace. Newlines survive so callers keep document layout.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	cleaned := controlChars.ReplaceAllString(text, " ")
	cleaned = runsOfSpaces.ReplaceAllString(cleaned, " ")
	cleaned = runsOfBlankRows.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// ExtractInvoiceFields scans free text for invoice-like tokens. Keys
// appear only when detected; all-absent yields an empty map, which is
// a valid result, not a failure.
func ExtractInvoiceFields(text string) map[string]string {
	fields := make(map[string]string)
	if m := invoiceNumberRe.FindStringSubmatch(text); m != nil {
		fields["invoice_number"] = m[1]
	}
	if m := invoiceDateRe.FindStringSubmatch(text); m != nil {
		fields["date"] = m[1]
	}
	if m := invoiceTotalRe.FindStringSubmatch(text); m != nil {
		fields["total"] = m[1]
	}
	return fields
}

// Extractor turns fetched document bytes into sanitized text plus
// detected structured fields.
type Extractor interface {
	Extract(data []byte, mimeType string) (string, map[string]string, error)
}

type documentExtractor struct{}

func NewExtractor() Extractor {
	return &documentExtractor{}
}

// Extract dispatches on the declared mime type, falling back to the
// content header when the declaration is missing or generic.
func (e *documentExtractor) Extract(data []byte, mimeType string) (string, map[string]string, error) {
	mime := strings.ToLower(mimeType)

	var text string
	var err error
	switch {
	case strings.HasPrefix(mime, "application/pdf") || bytes.HasPrefix(data, []byte("%PDF")):
		text, err = extractPDFText(data)
	case strings.HasPrefix(mime, "image/"):
		text, err = extractImageText(data)
	default:
		return "", nil, errors.New(errors.ErrCodeExtractionFailed,
			fmt.Sprintf("unsupported document mime type %q", mimeType))
	}
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrCodeExtractionFailed, "text extraction failed")
	}

	sanitized := SanitizeText(text)
	return sanitized, ExtractInvoiceFields(sanitized), nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not void the document.
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractImageText(data []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr failed: %w", err)
	}
	return text, nil
}
