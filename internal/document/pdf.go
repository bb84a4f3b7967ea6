package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	fontFamily = "Helvetica"
	lineHeight = 6.0
)

// SignatureLine is printed under the body for each party.
type SignatureLine struct {
	Role     string
	Name     string
	ImageRef string
	SignedAt time.Time
}

type Input struct {
	Title       string
	AgreementID string
	HTML        string
	Signatures  []SignatureLine
	// IssuedAt is stamped into the PDF metadata so equal inputs give equal bytes.
	IssuedAt time.Time
}

// RenderPDF lays out the rendered body and signature block on A4 pages.
func RenderPDF(in Input) ([]byte, error) {
	blocks, err := ParseHTML(in.HTML)
	if err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(in.IssuedAt)
	pdf.SetModificationDate(in.IssuedAt)
	pdf.SetTitle(in.Title, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Agreement %s - page %d", in.AgreementID, pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, b := range blocks {
		switch b.Kind {
		case BlockHeading1:
			pdf.SetFont(fontFamily, "B", 16)
			pdf.MultiCell(0, lineHeight+2, tr(b.Text), "", "C", false)
			pdf.Ln(2)
		case BlockHeading2:
			pdf.SetFont(fontFamily, "B", 13)
			pdf.Ln(1)
			pdf.MultiCell(0, lineHeight+1, tr(b.Text), "", "L", false)
		case BlockHeading3:
			pdf.SetFont(fontFamily, "B", 11)
			pdf.MultiCell(0, lineHeight, tr(b.Text), "", "L", false)
		case BlockListItem:
			pdf.SetFont(fontFamily, "", 11)
			pdf.SetX(26)
			pdf.MultiCell(0, lineHeight, tr("- "+b.Text), "", "L", false)
		default:
			pdf.SetFont(fontFamily, "", 11)
			pdf.MultiCell(0, lineHeight, tr(b.Text), "", "J", false)
			pdf.Ln(1)
		}
	}

	if len(in.Signatures) > 0 {
		pdf.Ln(8)
		pdf.SetFont(fontFamily, "B", 12)
		pdf.MultiCell(0, lineHeight, "Signatures", "B", "L", false)
		pdf.Ln(2)
		for _, s := range in.Signatures {
			pdf.SetFont(fontFamily, "B", 11)
			pdf.MultiCell(0, lineHeight, tr(fmt.Sprintf("%s: %s", s.Role, s.Name)), "", "L", false)
			pdf.SetFont(fontFamily, "", 9)
			pdf.MultiCell(0, lineHeight-1, tr("Signed at "+s.SignedAt.UTC().Format(time.RFC3339)), "", "L", false)
			pdf.MultiCell(0, lineHeight-1, tr("Signature image: "+s.ImageRef), "", "L", false)
			pdf.Ln(3)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Digest returns the hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
