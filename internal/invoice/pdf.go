package invoice

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/malipo/orchestrator/internal/domain"
)

// PDFRenderer emits a single-page receipt PDF. The layout is
// deliberately minimal; a deployment that wants branded invoices swaps
// in its own Renderer.
type PDFRenderer struct {
	BusinessName string
}

func NewPDFRenderer(businessName string) *PDFRenderer {
	if businessName == "" {
		businessName = "Payment Receipt"
	}
	return &PDFRenderer{BusinessName: businessName}
}

func (r *PDFRenderer) Render(tx *domain.Transaction) ([]byte, error) {
	completed := tx.UpdatedAt
	if tx.CompletedAt != nil {
		completed = *tx.CompletedAt
	}

	lines := []string{
		r.BusinessName,
		"",
		"Invoice for transaction " + tx.ID,
		fmt.Sprintf("Date: %s", completed.Format(time.RFC1123)),
		fmt.Sprintf("Amount: %s %s", tx.Currency, tx.Amount.StringFixed(2)),
		fmt.Sprintf("Paid via: %s", tx.Processor),
	}
	if tx.GatewayRef != "" {
		lines = append(lines, "Receipt: "+tx.GatewayRef)
	}
	if tx.PayerName != "" {
		lines = append(lines, "Payer: "+tx.PayerName)
	}
	if tx.Description != "" {
		lines = append(lines, "", tx.Description)
	}

	return buildPDF(lines), nil
}

// buildPDF assembles a one-page PDF with Helvetica text, one line per
// entry, top-down from y=760.
func buildPDF(lines []string) []byte {
	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 72 760 Td 16 TL\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", escapePDFText(line))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)

	return buf.Bytes()
}

func escapePDFText(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return replacer.Replace(s)
}
