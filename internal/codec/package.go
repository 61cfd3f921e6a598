// Package codec encodes and decodes the .fhk portable plugin package
// format: a gzipped tar with a fixed entry order (manifest.json,
// image.tar, README.md, checksums.sha256) and a sha256sum-compatible
// checksum manifest computed before the gzip wrapper is applied.
package codec

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/forgehook/forgehook/internal/models"
)

const (
	manifestEntry   = "manifest.json"
	imageEntry      = "image.tar"
	readmeEntry     = "README.md"
	checksumsEntry  = "checksums.sha256"
)

// Package is the parsed, in-memory contents of a .fhk archive.
type Package struct {
	Manifest models.ForgeHookManifest
	Image    []byte // present only for container-runtime plugins
	README   []byte // optional
}

// ErrInvalidPackage is returned for any structural or checksum failure.
type ErrInvalidPackage struct {
	Reason string
}

func (e *ErrInvalidPackage) Error() string { return "invalid package: " + e.Reason }

// Export writes pkg as a .fhk archive (gzipped tar) to w. maxUncompressed
// bounds total entry size to guard memory use on both ends of a transfer.
func Export(w io.Writer, pkg *Package, maxUncompressed int64) error {
	manifestJSON, err := json.MarshalIndent(pkg.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	type entry struct {
		name string
		data []byte
	}
	entries := []entry{{manifestEntry, manifestJSON}}
	if len(pkg.Image) > 0 {
		entries = append(entries, entry{imageEntry, pkg.Image})
	}
	if len(pkg.README) > 0 {
		entries = append(entries, entry{readmeEntry, pkg.README})
	}

	var total int64
	checksums := &bytes.Buffer{}
	for _, e := range entries {
		total += int64(len(e.data))
		if total > maxUncompressed {
			return &ErrInvalidPackage{Reason: "package exceeds max uncompressed size"}
		}
		sum := sha256.Sum256(e.data)
		fmt.Fprintf(checksums, "%s  %s\n", hex.EncodeToString(sum[:]), e.name)
	}
	entries = append(entries, entry{checksumsEntry, checksums.Bytes()})

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Size: int64(len(e.data)), Mode: 0644}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing tar header %s: %w", e.name, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("writing tar entry %s: %w", e.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// Inspect reads only manifest.json from r, without unpacking or
// checksum-verifying the rest of the archive.
func Inspect(r io.Reader) (*models.ForgeHookManifest, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, &ErrInvalidPackage{Reason: "not a gzip stream: " + err.Error()}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ErrInvalidPackage{Reason: "corrupt tar stream: " + err.Error()}
		}
		if hdr.Name != manifestEntry {
			continue
		}
		var m models.ForgeHookManifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, &ErrInvalidPackage{Reason: "invalid manifest.json: " + err.Error()}
		}
		return &m, nil
	}
	return nil, &ErrInvalidPackage{Reason: "manifest.json entry not found"}
}

// Import fully unpacks r, verifying every checksum in checksums.sha256
// before returning. maxUncompressed bounds total entry size.
func Import(r io.Reader, maxUncompressed int64) (*Package, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, &ErrInvalidPackage{Reason: "not a gzip stream: " + err.Error()}
	}
	defer gz.Close()

	entries := make(map[string][]byte)
	var total int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ErrInvalidPackage{Reason: "corrupt tar stream: " + err.Error()}
		}
		total += hdr.Size
		if total > maxUncompressed {
			return nil, &ErrInvalidPackage{Reason: "package exceeds max uncompressed size"}
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, &ErrInvalidPackage{Reason: "reading entry " + hdr.Name + ": " + err.Error()}
		}
		entries[hdr.Name] = data
	}
	// The tar reader stops at its end-of-archive marker; read the gzip
	// stream to its end so its CRC-32 and size trailer are verified too.
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return nil, &ErrInvalidPackage{Reason: "corrupt gzip stream: " + err.Error()}
	}

	manifestData, ok := entries[manifestEntry]
	if !ok {
		return nil, &ErrInvalidPackage{Reason: "manifest.json entry not found"}
	}
	checksumData, ok := entries[checksumsEntry]
	if !ok {
		return nil, &ErrInvalidPackage{Reason: "checksums.sha256 entry not found"}
	}

	if err := verifyChecksums(checksumData, entries); err != nil {
		return nil, err
	}

	var m models.ForgeHookManifest
	if err := json.Unmarshal(manifestData, &m); err != nil {
		return nil, &ErrInvalidPackage{Reason: "invalid manifest.json: " + err.Error()}
	}
	if err := m.Validate(); err != nil {
		return nil, &ErrInvalidPackage{Reason: "manifest failed validation: " + err.Error()}
	}

	return &Package{
		Manifest: m,
		Image:    entries[imageEntry],
		README:   entries[readmeEntry],
	}, nil
}

// verifyChecksums parses sha256sum-formatted lines ("<hex>  <name>") and
// confirms every named, non-checksum entry present in entries matches.
func verifyChecksums(checksumData []byte, entries map[string][]byte) error {
	want := make(map[string]string)
	for _, line := range bytes.Split(bytes.TrimSpace(checksumData), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		parts := bytes.SplitN(line, []byte("  "), 2)
		if len(parts) != 2 {
			return &ErrInvalidPackage{Reason: "malformed checksums.sha256 line"}
		}
		want[string(parts[1])] = string(parts[0])
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		if name == checksumsEntry {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		expected, ok := want[name]
		if !ok {
			return &ErrInvalidPackage{Reason: "missing checksum for entry " + name}
		}
		sum := sha256.Sum256(entries[name])
		actual := hex.EncodeToString(sum[:])
		if actual != expected {
			return &ErrInvalidPackage{Reason: "checksum mismatch for entry " + name}
		}
	}
	return nil
}
