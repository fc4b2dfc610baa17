package main

import (
	"strings"
	"testing"

	"github.com/worldstream/server/internal/data"
)

func TestWriteSQL(t *testing.T) {
	zero := int32(0)
	ps := []data.Placement{
		{Kind: "pickup", Model: 9, Name: "o'brien", X: 1.5, Y: 2},
		{Kind: "object", Model: 2, X: 10, Y: -3, Z: 0.25, Interior: &zero, Count: 3, RandomX: 4, Pinned: true, Attrs: map[string]string{"tint": "red"}},
	}
	var b strings.Builder
	if err := writeSQL(&b, ps, "a.yaml"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d:\n%s", len(lines), b.String())
	}
	if !strings.Contains(lines[1], "count=3 randomx=4 randomy=0") {
		t.Fatalf("count note=%q", lines[1])
	}
	wantObj := `VALUES ('object', 2, '', 10, -3, 0.25, 0, NULL, true, '{"tint":"red"}'::jsonb);`
	if !strings.HasSuffix(lines[2], wantObj) {
		t.Fatalf("object row=%q", lines[2])
	}
	wantPick := `VALUES ('pickup', 9, 'o''brien', 1.5, 2, 0, NULL, NULL, false, '{}'::jsonb);`
	if !strings.HasSuffix(lines[3], wantPick) {
		t.Fatalf("pickup row=%q", lines[3])
	}
}
