package document

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

func TestParseHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want []Block
	}{
		{
			"headings and paragraphs",
			"<h1>Sublease</h1><p>Between  <b>Ann</b>\n and Bob.</p><h2>Rent</h2>",
			[]Block{{BlockHeading1, "Sublease"}, {BlockParagraph, "Between Ann and Bob."}, {BlockHeading2, "Rent"}},
		},
		{
			"list items",
			"<ul><li>No smoking</li><li>No pets</li></ul>",
			[]Block{{BlockListItem, "No smoking"}, {BlockListItem, "No pets"}},
		},
		{
			"line breaks kept",
			"<p>line one<br>line two</p>",
			[]Block{{BlockParagraph, "line one\nline two"}},
		},
		{
			"nested paragraph printed once",
			"<ul><li><p>inner</p></li></ul>",
			[]Block{{BlockListItem, "inner"}},
		},
		{
			"plain text",
			"just text",
			[]Block{{BlockParagraph, "just text"}},
		},
		{
			"scripts dropped",
			"<p>ok</p><script>alert(1)</script>",
			[]Block{{BlockParagraph, "ok"}},
		},
		{
			"empty",
			"",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHTML(tt.html)
			if err != nil {
				t.Fatalf("ParseHTML: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseHTML() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestRenderPDF(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Input{
		Title:       "Sublease Agreement",
		AgreementID: "abc",
		HTML:        "<h1>Sublease</h1><p>Rent: 2000 usd &amp; utilities. Café</p>",
		Signatures: []SignatureLine{
			{Role: "Tenant", Name: "Bob", ImageRef: "https://cdn/sig-t.png", SignedAt: signedAt},
			{Role: "Lister", Name: "Ann", ImageRef: "https://cdn/sig-l.png", SignedAt: signedAt},
		},
		IssuedAt: signedAt,
	}

	first, err := RenderPDF(in)
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if !bytes.HasPrefix(first, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", first[:8])
	}

	second, err := RenderPDF(in)
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if Digest(first) != Digest(second) {
		t.Error("same input produced different documents")
	}
}

func TestDigest(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Digest([]byte("abc")); got != want {
		t.Errorf("Digest = %s", got)
	}
}
