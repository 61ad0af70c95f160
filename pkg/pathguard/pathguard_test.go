// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeHappyPath(t *testing.T) {
	base := t.TempDir()
	got, err := Sanitize(base, "meta/Llama", "Q4_K_M/file.gguf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(base, "meta", "Llama", "Q4_K_M", "file.gguf")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeInvalidModelID(t *testing.T) {
	base := t.TempDir()
	_, err := Sanitize(base, "a/../b", "x")
	if !errors.Is(err, ErrInvalidModelID) {
		t.Fatalf("expected ErrInvalidModelID, got %v", err)
	}
}

func TestSanitizeTraversalInFilename(t *testing.T) {
	base := t.TempDir()
	_, err := Sanitize(base, "a/b", "../x")
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal for a '..' filename component, got %v", err)
	}
}

func TestSanitizeTraversalEscapesBase(t *testing.T) {
	base := t.TempDir()
	// Construct a model id/filename combination that individually passes
	// component sanitization but whose composed path, once an ancestor
	// symlink exists, escapes base.
	outside := t.TempDir()
	link := filepath.Join(base, "author")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	_, err := Sanitize(base, "author/model", "file.gguf")
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}

func TestSanitizeAcceptsNonExistentBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "does-not-exist-yet")
	got, err := Sanitize(base, "meta/Llama", "file.gguf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(filepath.Dir(filepath.Dir(got))) != base {
		t.Fatalf("expected path rooted at non-existent base, got %q", got)
	}
}

func TestSanitizeComponentRules(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"a\\b", false},
		{"a\x00b", false},
		{"  trimmed..  ", true},
		{"normal", true},
	}
	for _, c := range cases {
		_, ok := sanitizeComponent(c.in)
		if ok != c.ok {
			t.Errorf("sanitizeComponent(%q) ok=%v, want %v", c.in, ok, c.ok)
		}
	}
}
