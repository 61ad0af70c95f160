// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hf-downloads.toml")

	r := &Registry{Downloads: []Metadata{
		{
			ModelID:        "meta/Llama",
			Filename:       "model.Q4_K_M.gguf",
			URL:            "https://huggingface.co/meta/Llama/resolve/main/model.Q4_K_M.gguf",
			LocalPath:      "/tmp/dl/meta/Llama/model.Q4_K_M.gguf",
			TotalSize:      1024,
			DownloadedSize: 1024,
			Status:         StatusComplete,
			ExpectedSHA256: "abc123",
		},
	}}
	if err := r.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded := LoadFrom(path)
	if len(loaded.Downloads) != 1 || loaded.Downloads[0].URL != r.Downloads[0].URL {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	r := LoadFrom(filepath.Join(dir, "does-not-exist.toml"))
	if len(r.Downloads) != 0 {
		t.Fatalf("expected empty registry, got %+v", r)
	}
}

func TestLoadCorruptFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.toml")
	if err := writeFile(path, "not valid toml {{{"); err != nil {
		t.Fatal(err)
	}
	r := LoadFrom(path)
	if len(r.Downloads) != 0 {
		t.Fatalf("expected empty registry on parse error, got %+v", r)
	}
}

func TestUpsertReplacesByURL(t *testing.T) {
	r := &Registry{}
	row := Metadata{URL: "u1", DownloadedSize: 10}
	r.Upsert(row)
	row.DownloadedSize = 20
	r.Upsert(row)
	if len(r.Downloads) != 1 {
		t.Fatalf("expected one row after upsert, got %d", len(r.Downloads))
	}
	if r.Downloads[0].DownloadedSize != 20 {
		t.Fatalf("upsert did not replace: %+v", r.Downloads[0])
	}
}

func TestFindAndRemove(t *testing.T) {
	r := &Registry{}
	r.Upsert(Metadata{URL: "u1", Status: StatusIncomplete})
	r.Upsert(Metadata{URL: "u2", Status: StatusComplete, Filename: "f2"})

	if _, ok := r.FindByURL("u1"); !ok {
		t.Fatal("expected to find u1")
	}
	if got := r.Incomplete(); len(got) != 1 || got[0].URL != "u1" {
		t.Fatalf("Incomplete() = %+v", got)
	}
	if m := r.CompleteByFilename(); m["f2"].URL != "u2" {
		t.Fatalf("CompleteByFilename() = %+v", m)
	}
	r.Remove("u1")
	if _, ok := r.FindByURL("u1"); ok {
		t.Fatal("expected u1 removed")
	}
}

func TestSaveRoundTripByteForByteStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hf-downloads.toml")

	r := &Registry{Downloads: []Metadata{{URL: "u1", Status: StatusIncomplete, TotalSize: 5}}}
	if err := r.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	first := readFile(t, path)

	loaded := LoadFrom(path)
	if err := loaded.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	second := readFile(t, path)

	if first != second {
		t.Fatalf("save(load(save(r))) != save(r):\n--- first ---\n%s\n--- second ---\n%s", first, second)
	}
}
