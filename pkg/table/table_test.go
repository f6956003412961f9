package table

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const personsCSV = `person;executed_score;home_x;home_y;subpopulation
p1;120.5;483000.5;2145000.25;person
p2;118.0;490000;2150000;person
p3;99.1;foo;2150000;person
`

func TestRead(t *testing.T) {
	tbl, err := Read(strings.NewReader(personsCSV))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tbl.Len())
	}
	if len(tbl.Columns) != 5 || tbl.Columns[2] != "home_x" {
		t.Errorf("Columns = %v", tbl.Columns)
	}

	x, err := tbl.Col("home_x")
	if err != nil {
		t.Fatalf("Col failed: %v", err)
	}
	v, err := tbl.Float(0, x)
	if err != nil || v != 483000.5 {
		t.Errorf("Float(0, home_x) = %v, %v", v, err)
	}
	if _, err := tbl.Float(2, x); !errors.Is(err, ErrNotNumeric) {
		t.Errorf("Float on %q: expected ErrNotNumeric, got %v", tbl.Rows[2][x], err)
	}
}

func TestFloatRejectsNonFinite(t *testing.T) {
	tbl := New([]string{"home_x"}, [][]string{{"NaN"}, {"Inf"}, {"-inf"}, {"1e400"}, {" 12.5 "}})
	for i := 0; i < 4; i++ {
		if _, err := tbl.Float(i, 0); !errors.Is(err, ErrNotNumeric) {
			t.Errorf("Float(%q): expected ErrNotNumeric, got %v", tbl.Rows[i][0], err)
		}
	}
	if v, err := tbl.Float(4, 0); err != nil || v != 12.5 {
		t.Errorf("Float(%q) = %v, %v", tbl.Rows[4][0], v, err)
	}
}

func TestReadGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(personsCSV)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	tbl, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if tbl.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tbl.Len())
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"ragged row", "a;b\n1;2;3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadStripsBOM(t *testing.T) {
	tbl, err := Read(strings.NewReader("\ufeffperson;main_mode\np1;car\n"))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !tbl.Has("person") {
		t.Errorf("Columns = %q, want person first", tbl.Columns)
	}
}

func TestColMissing(t *testing.T) {
	tbl := New([]string{"a", "b"}, nil)
	_, err := tbl.Col("main_mode")
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}
	if _, err := tbl.Column("main_mode"); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Column: expected ErrMissingColumn, got %v", err)
	}
}

func TestWhere(t *testing.T) {
	tbl := New([]string{"trip", "main_mode"}, [][]string{
		{"t1", "car"},
		{"t2", "plane"},
		{"t3", "walk"},
	})
	out := tbl.Where(func(r []string) bool { return r[1] != "plane" })
	if out.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", out.Len())
	}
	modes, err := out.Column("main_mode")
	if err != nil {
		t.Fatal(err)
	}
	if modes[0] != "car" || modes[1] != "walk" {
		t.Errorf("modes = %v", modes)
	}
	if tbl.Len() != 3 {
		t.Error("Where modified its input")
	}
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	tbl := New([]string{"person", "home_x", "home_y"}, [][]string{
		{"p1", "1", "2"},
		{"p2", "3", "4"},
	})

	for _, name := range []string{"persons.csv", "persons.csv.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := WriteFile(path, tbl); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			got, err := ReadFile(context.Background(), path, nil)
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if got.Len() != 2 || got.Rows[1][2] != "4" {
				t.Errorf("round trip mismatch: %v", got.Rows)
			}
		})
	}

	raw, err := os.ReadFile(filepath.Join(dir, "persons.csv.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, gzipMagic) {
		t.Error(".gz output is not gzip compressed")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv.gz"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}
