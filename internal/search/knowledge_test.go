package search

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleKB = `# Shipping

We deliver within Accra in 1-2 days.
Outside Accra takes 3-5 days.

# Sizes

| Size | Chest | Length |
|:-----|:-----:|-------:|
| M    | 96cm  | 70cm   |
| L    | 102cm |        |

- Returns accepted within 7 days
`

func TestParseKnowledge_ParagraphsAndTables(t *testing.T) {
	docs, err := ParseKnowledge(strings.NewReader(sampleKB))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{
		"Shipping: We deliver within Accra in 1-2 days. Outside Accra takes 3-5 days.",
		"Sizes: Size: M; Chest: 96cm; Length: 70cm",
		"Sizes: Size: L; Chest: 102cm",
		"Sizes: Returns accepted within 7 days",
	}
	if len(docs) != len(want) {
		t.Fatalf("got %d docs: %+v", len(docs), docs)
	}
	for i, w := range want {
		if docs[i].Text != w {
			t.Fatalf("doc %d = %q, want %q", i, docs[i].Text, w)
		}
		if docs[i].ID == "" {
			t.Fatalf("doc %d has no id", i)
		}
	}

	idx := New(docs)
	if r := idx.TopK("how long is delivery outside accra", 1); len(r) != 1 || r[0].ID != docs[0].ID {
		t.Fatalf("search = %+v", r)
	}
}

func TestLoadKnowledge_FileAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.md")
	if err := os.WriteFile(path, []byte(sampleKB), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	docs, err := LoadKnowledge(path)
	if err != nil || len(docs) != 4 {
		t.Fatalf("load: %d %v", len(docs), err)
	}
	if _, err := LoadKnowledge(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
