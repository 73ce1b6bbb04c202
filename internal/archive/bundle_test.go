package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

func readBundle(t *testing.T, buf *bytes.Buffer) (map[string]string, Manifest) {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("failed to open bundle: %v", err)
	}

	contents := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read entry %s: %v", f.Name, err)
		}
		contents[f.Name] = string(data)
	}

	raw, ok := contents[ManifestName]
	if !ok {
		t.Fatal("bundle has no manifest entry")
	}
	var manifest Manifest
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	return contents, manifest
}

func TestWriteBundle(t *testing.T) {
	t.Run("packs entries with their content", func(t *testing.T) {
		modTime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		entries := []Entry{
			{Name: "a.txt", ModTime: modTime, Data: strings.NewReader("alpha")},
			{Name: "b.txt", ModTime: modTime, Data: strings.NewReader("bravo")},
		}

		var buf bytes.Buffer
		if err := WriteBundle(&buf, entries, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		contents, manifest := readBundle(t, &buf)
		if contents["a.txt"] != "alpha" {
			t.Errorf("expected 'alpha', got %q", contents["a.txt"])
		}
		if contents["b.txt"] != "bravo" {
			t.Errorf("expected 'bravo', got %q", contents["b.txt"])
		}

		if len(manifest.Included) != 2 {
			t.Fatalf("expected 2 included names, got %d", len(manifest.Included))
		}
		if manifest.Skipped == nil || len(manifest.Skipped) != 0 {
			t.Errorf("expected empty skipped list, got %v", manifest.Skipped)
		}
	})

	t.Run("records skipped files in the manifest", func(t *testing.T) {
		entries := []Entry{
			{Name: "kept.txt", ModTime: time.Now(), Data: strings.NewReader("data")},
		}
		skipped := []Skipped{
			{Name: "missing.txt", Reason: "NotFound"},
			{Name: "private.txt", Reason: "Forbidden"},
		}

		var buf bytes.Buffer
		if err := WriteBundle(&buf, entries, skipped); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		contents, manifest := readBundle(t, &buf)
		if _, ok := contents["missing.txt"]; ok {
			t.Error("skipped file must not appear as an entry")
		}
		if len(manifest.Skipped) != 2 {
			t.Fatalf("expected 2 skipped records, got %d", len(manifest.Skipped))
		}
		if manifest.Skipped[0].Reason != "NotFound" || manifest.Skipped[1].Reason != "Forbidden" {
			t.Errorf("unexpected skip reasons: %v", manifest.Skipped)
		}
	})

	t.Run("empty request still yields a valid bundle", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteBundle(&buf, nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		contents, manifest := readBundle(t, &buf)
		if len(contents) != 1 {
			t.Errorf("expected only the manifest, got %d entries", len(contents))
		}
		if len(manifest.Included) != 0 {
			t.Errorf("expected no included names, got %v", manifest.Included)
		}
	})

	t.Run("propagates reader failures", func(t *testing.T) {
		entries := []Entry{
			{Name: "broken.txt", ModTime: time.Now(), Data: errReader{}},
		}

		var buf bytes.Buffer
		if err := WriteBundle(&buf, entries, nil); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
