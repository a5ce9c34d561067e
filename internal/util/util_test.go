package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tue, 07 Oct 2025 14:09:35 GMT", "tue-07-oct-2025-14-09-35-gmt"},
		{"  leading and trailing  ", "leading-and-trailing"},
		{"already-slug", "already-slug"},
		{"", ""},
		{"@@@", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	n, err := WriteFileAtomic(path, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if n != 5 {
		t.Errorf("wrote %d bytes, want 5", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the final file, got %d entries", len(entries))
	}

	ok, err := Exists(path)
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	ok, err = Exists(filepath.Join(dir, "missing"))
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
}
