// Package archive packages a set of stored files into a single zip stream
// for bulk download. Files that could not be included are recorded in a
// MANIFEST.json entry inside the archive rather than silently dropped.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ManifestName is the reserved entry holding the bundle manifest.
const ManifestName = "MANIFEST.json"

// Entry is a single file to include in the bundle.
type Entry struct {
	Name    string
	ModTime time.Time
	Data    io.Reader
}

// Skipped records a requested file that was left out of the bundle.
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Manifest describes the bundle contents.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Included  []string  `json:"included"`
	Skipped   []Skipped `json:"skipped"`
}

// WriteBundle streams a zip archive of the given entries to w, terminated by
// a manifest listing both included and skipped names.
func WriteBundle(w io.Writer, entries []Entry, skipped []Skipped) error {
	zw := zip.NewWriter(w)

	manifest := Manifest{
		CreatedAt: time.Now().UTC(),
		Included:  make([]string, 0, len(entries)),
		Skipped:   skipped,
	}
	if manifest.Skipped == nil {
		manifest.Skipped = []Skipped{}
	}

	for _, entry := range entries {
		if err := addEntry(zw, entry); err != nil {
			zw.Close()
			return err
		}
		manifest.Included = append(manifest.Included, entry.Name)
	}

	if err := addManifest(zw, manifest); err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func addEntry(zw *zip.Writer, entry Entry) error {
	header := &zip.FileHeader{
		Name:     entry.Name,
		Method:   zip.Deflate,
		Modified: entry.ModTime,
	}

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", entry.Name, err)
	}

	if _, err := io.Copy(writer, entry.Data); err != nil {
		return fmt.Errorf("failed to write zip entry %s: %w", entry.Name, err)
	}
	return nil
}

func addManifest(zw *zip.Writer, manifest Manifest) error {
	writer, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ManifestName,
		Method:   zip.Deflate,
		Modified: manifest.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create manifest entry: %w", err)
	}

	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return nil
}
