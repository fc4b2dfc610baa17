// placeconv converts a placement YAML file into INSERT statements for the
// stream_placements table.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/worldstream/server/internal/data"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: placeconv <placements.yaml> <output.sql>")
		os.Exit(1)
	}

	ps, err := data.LoadPlacements(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out, err := os.Create(os.Args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer out.Close()

	if err := writeSQL(out, ps, os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d placement rows to %s\n", len(ps), os.Args[2])
}

// writeSQL emits one INSERT per placement, sorted by kind, model, x, y.
// Count expansion is left to the server.
func writeSQL(w io.Writer, ps []data.Placement, source string) error {
	sorted := append([]data.Placement(nil), ps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	if _, err := fmt.Fprintf(w, "-- stream_placements, generated from %s (%d entries)\n", source, len(sorted)); err != nil {
		return err
	}
	for _, p := range sorted {
		n := p.Count
		if n < 1 {
			n = 1
		}
		if n > 1 {
			// scatter is applied at load time; keep the anchor and note the count
			if _, err := fmt.Fprintf(w, "-- %s/%d: count=%d randomx=%s randomy=%s (anchor only)\n",
				p.Kind, p.Model, n, num(p.RandomX), num(p.RandomY)); err != nil {
				return err
			}
		}
		attrs := "{}"
		if len(p.Attrs) > 0 {
			b, err := json.Marshal(p.Attrs)
			if err != nil {
				return err
			}
			attrs = string(b)
		}
		if _, err := fmt.Fprintf(w,
			"INSERT INTO stream_placements (kind, model, name, x, y, z, interior, world, pinned, attrs) VALUES (%s, %d, %s, %s, %s, %s, %s, %s, %t, %s);\n",
			quote(p.Kind), p.Model, quote(p.Name), num(p.X), num(p.Y), num(p.Z),
			nullable(p.Interior), nullable(p.World), p.Pinned, quote(attrs)+"::jsonb",
		); err != nil {
			return err
		}
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func nullable(v *int32) string {
	if v == nil {
		return "NULL"
	}
	return strconv.Itoa(int(*v))
}
