package parser

import (
	"strings"
	"testing"

	"github.com/dgallion1/parentdoc/internal/doctree"
)

func parse(t *testing.T, p Parser, input, filename string) *doctree.DocTree {
	t.Helper()
	tree, err := p.Parse(strings.NewReader(input), filename)
	if err != nil {
		t.Fatalf("Parse(%s): %v", filename, err)
	}
	return tree
}

func TestMarkdownParser_HeadingHierarchy(t *testing.T) {
	input := "# Title\n\nIntro text.\n\n## Section A\n\nSection A content.\n\n### Subsection A1\n\nSubsection A1 content.\n\n## Section B\n\nSection B content.\n"
	tree := parse(t, &MarkdownParser{}, input, "doc.md")

	if tree.Title != "doc" {
		t.Errorf("title = %q, want %q", tree.Title, "doc")
	}
	if len(tree.Children) != 1 {
		t.Fatalf("top-level sections = %d, want 1", len(tree.Children))
	}
	h1 := tree.Children[0]
	if h1.Title != "Title" || h1.Text != "Intro text." {
		t.Errorf("h1 = %q / %q", h1.Title, h1.Text)
	}
	if len(h1.Children) != 2 {
		t.Fatalf("h2 sections = %d, want 2", len(h1.Children))
	}
	secA, secB := h1.Children[0], h1.Children[1]
	if secA.Title != "Section A" || secA.Text != "Section A content." {
		t.Errorf("section A = %q / %q", secA.Title, secA.Text)
	}
	if len(secA.Children) != 1 || secA.Children[0].Title != "Subsection A1" {
		t.Errorf("section A children = %+v", secA.Children)
	}
	if secB.Title != "Section B" {
		t.Errorf("section B title = %q", secB.Title)
	}
}

func TestMarkdownParser_ParagraphTextNotDuplicated(t *testing.T) {
	tree := parse(t, &MarkdownParser{}, "# H\n\nline one\nline two\n", "x.md")
	if got := tree.Children[0].Text; got != "line one\nline two" {
		t.Errorf("text = %q", got)
	}
}

func TestMarkdownParser_IntroBeforeFirstHeadingKept(t *testing.T) {
	tree := parse(t, &MarkdownParser{}, "Preamble.\n\n# One\n\nBody.\n", "x.md")
	if len(tree.Children) != 2 {
		t.Fatalf("sections = %d, want 2", len(tree.Children))
	}
	if tree.Children[0].Title != "" || tree.Children[0].Text != "Preamble." {
		t.Errorf("leading section = %+v", tree.Children[0])
	}
}

func TestMarkdownParser_CodeBlocksAndLists(t *testing.T) {
	input := "## Endpoints\n\n```\nGET /api/users\nPOST /api/users\n```\n\n- first item\n- second item\n"
	tree := parse(t, &MarkdownParser{}, input, "api.markdown")
	if tree.Title != "api" {
		t.Errorf("title = %q", tree.Title)
	}
	text := tree.Children[0].Text
	for _, want := range []string{"GET /api/users\nPOST /api/users", "first item", "second item"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
}

func TestMarkdownParser_NoHeadingsAndEmpty(t *testing.T) {
	tree := parse(t, &MarkdownParser{}, "Just some plain text.\n\nAnother paragraph here.", "plain.md")
	if len(tree.Children) != 1 {
		t.Fatalf("sections = %d, want 1", len(tree.Children))
	}
	if tree.Children[0].Text != "Just some plain text.\n\nAnother paragraph here." {
		t.Errorf("text = %q", tree.Children[0].Text)
	}

	if tree := parse(t, &MarkdownParser{}, "", "empty.md"); len(tree.Children) != 0 {
		t.Errorf("empty input produced %d sections", len(tree.Children))
	}
}

func TestTextParser_Paragraphs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"basic", "Line one.\nLine two.\n\nSecond.\n\nThird.", []string{"Line one.\nLine two.", "Second.", "Third."}},
		{"blank runs", "Para one.\n\n\n\nPara two.", []string{"Para one.", "Para two."}},
		{"whitespace lines", "Para one.\n   \nPara two.", []string{"Para one.", "Para two."}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := parse(t, &TextParser{}, tt.input, "notes.txt")
			if tree.Title != "notes" {
				t.Errorf("title = %q", tree.Title)
			}
			if len(tree.Children) != len(tt.want) {
				t.Fatalf("paragraphs = %d, want %d", len(tree.Children), len(tt.want))
			}
			for i, w := range tt.want {
				if tree.Children[i].Text != w {
					t.Errorf("paragraph %d = %q, want %q", i, tree.Children[i].Text, w)
				}
			}
		})
	}
}

func TestCSVParser_GroupsRows(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("name,qty\n")
	for i := range 25 {
		sb.WriteString("item")
		sb.WriteByte(byte('a' + i))
		sb.WriteString(",1\n")
	}
	tree := parse(t, &CSVParser{}, sb.String(), "stock.csv")
	if len(tree.Children) != 2 {
		t.Fatalf("sections = %d, want 2", len(tree.Children))
	}
	if tree.Children[0].Title != "Rows 2-21" || tree.Children[1].Title != "Rows 22-26" {
		t.Errorf("titles = %q, %q", tree.Children[0].Title, tree.Children[1].Title)
	}
	if !strings.HasPrefix(tree.Children[0].Text, "name: itema, qty: 1\n") {
		t.Errorf("first section = %q", tree.Children[0].Text)
	}
}

func TestCSVParser_HeaderOnly(t *testing.T) {
	if tree := parse(t, &CSVParser{}, "a,b\n", "h.csv"); len(tree.Children) != 0 {
		t.Errorf("sections = %d, want 0", len(tree.Children))
	}
}

func TestHTMLParser_SectionsAndChrome(t *testing.T) {
	input := `<html><head><title>Handbook</title><style>p{}</style></head><body>
<nav><p>Menu</p></nav>
<h1>Policies</h1><p>Be  kind.</p>
<h2>Leave</h2><ul><li>Ten days</li><li>Plus holidays</li></ul>
<script>var x = 1;</script>
<footer><p>Copyright</p></footer>
</body></html>`
	tree := parse(t, &HTMLParser{}, input, "page.html")
	if tree.Title != "Handbook" {
		t.Errorf("title = %q", tree.Title)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("sections = %d, want 1", len(tree.Children))
	}
	h1 := tree.Children[0]
	if h1.Title != "Policies" || h1.Text != "Be kind." {
		t.Errorf("h1 = %q / %q", h1.Title, h1.Text)
	}
	if len(h1.Children) != 1 || h1.Children[0].Text != "Ten days\n\nPlus holidays" {
		t.Errorf("h2 = %+v", h1.Children)
	}
	plain := tree.PlainText()
	for _, banned := range []string{"Menu", "Copyright", "var x"} {
		if strings.Contains(plain, banned) {
			t.Errorf("plain text contains %q", banned)
		}
	}
}

func TestForFile(t *testing.T) {
	for _, name := range []string{"a.txt", "b.MD", "c.markdown", "d.csv", "e.htm", "f.html", "g.pdf", "h.docx"} {
		if _, err := ForFile(name); err != nil {
			t.Errorf("ForFile(%q): %v", name, err)
		}
		if !IsSupported(name) {
			t.Errorf("IsSupported(%q) = false", name)
		}
	}
	if _, err := ForFile("x.exe"); err == nil {
		t.Error("expected error for .exe")
	}
	if IsSupported("noext") {
		t.Error("IsSupported(noext) = true")
	}
}

func TestParse_UsesBaseName(t *testing.T) {
	tree, err := Parse(strings.NewReader("hello"), "/tmp/upload/report.txt")
	if err != nil {
		t.Fatal(err)
	}
	if tree.Title != "report" {
		t.Errorf("title = %q", tree.Title)
	}
}

func TestPlainText(t *testing.T) {
	tree := parse(t, &MarkdownParser{}, "Intro.\n\n# A\n\nalpha\n\n## B\n\nbeta\n", "x.md")
	want := "Intro.\n\nA\n\nalpha\n\nB\n\nbeta"
	if got := tree.PlainText(); got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPDFParser_RejectsGarbage(t *testing.T) {
	if _, err := (&PDFParser{}).Parse(strings.NewReader("not a pdf"), "x.pdf"); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

func TestDOCXParser_RejectsGarbage(t *testing.T) {
	if _, err := (&DOCXParser{}).Parse(strings.NewReader("not a docx"), "x.docx"); err == nil {
		t.Error("expected error for invalid docx")
	}
}
