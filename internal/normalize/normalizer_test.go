package normalize

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPassthrough_FoldsWhitespace(t *testing.T) {
	n := Passthrough{}

	got := n.Normalize("  hello   world \t again ", "en")
	if got != "hello world again" {
		t.Errorf("Expected 'hello world again', got '%s'", got)
	}
}

func TestDictionary_NoWordListIsPassthrough(t *testing.T) {
	d := NewDictionary(2)

	got := d.Normalize("helo   wrld", "en")
	if got != "helo wrld" {
		t.Errorf("Expected whitespace folding only, got '%s'", got)
	}
}

func writeWordList(t *testing.T, words string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "words.txt")
	if err := os.WriteFile(path, []byte(words), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDictionary_RepairsCloseMisspelling(t *testing.T) {
	d := NewDictionary(2)
	path := writeWordList(t, "hello\nworld\nmorning\n")

	if _, err := d.LoadWordList("en", path); err != nil {
		t.Fatalf("LoadWordList failed: %v", err)
	}

	got := d.Normalize("helo wrld", "en")
	if got != "hello world" {
		t.Errorf("Expected 'hello world', got '%s'", got)
	}
}

func TestDictionary_KeepsKnownWords(t *testing.T) {
	d := NewDictionary(2)
	path := writeWordList(t, "hello\nworld\n")

	if _, err := d.LoadWordList("en", path); err != nil {
		t.Fatal(err)
	}

	got := d.Normalize("hello world", "en")
	if got != "hello world" {
		t.Errorf("Expected input unchanged, got '%s'", got)
	}
}

func TestDictionary_PreservesPunctuation(t *testing.T) {
	d := NewDictionary(2)
	path := writeWordList(t, "hello\nworld\n")

	if _, err := d.LoadWordList("en", path); err != nil {
		t.Fatal(err)
	}

	got := d.Normalize("helo, wrld!", "en")
	if got != "hello, world!" {
		t.Errorf("Expected punctuation preserved, got '%s'", got)
	}
}

func TestDictionary_LeavesDistantWordsAlone(t *testing.T) {
	d := NewDictionary(1)
	path := writeWordList(t, "hello\n")

	if _, err := d.LoadWordList("en", path); err != nil {
		t.Fatal(err)
	}

	got := d.Normalize("xyzzy", "en")
	if got != "xyzzy" {
		t.Errorf("Expected word beyond edit budget unchanged, got '%s'", got)
	}
}

func TestDictionary_MissingFileTolerated(t *testing.T) {
	d := NewDictionary(2)

	loaded, err := d.LoadWordList("en", "/nonexistent/words.txt")
	if err != nil {
		t.Errorf("Expected missing word list tolerated, got %v", err)
	}
	if loaded != 0 {
		t.Errorf("Expected 0 words loaded, got %d", loaded)
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"hello", "hello", 0},
		{"hello", "helo", 1},
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
	}

	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b, 10); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
