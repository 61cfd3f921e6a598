package codec

import (
	"bytes"
	"testing"

	"github.com/forgehook/forgehook/internal/models"
)

func testManifest() models.ForgeHookManifest {
	return models.ForgeHookManifest{
		ID:      "sample",
		Name:    "Sample Plugin",
		Version: "1.0.0",
		Runtime: models.RuntimeEmbedded,
		Entrypoint: models.Entrypoint{
			Symbol: "forgehook-builtins/ping",
		},
		Functions: []models.ManifestFunction{{Name: "ping"}},
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	pkg := &Package{Manifest: testManifest(), README: []byte("# Sample\n")}

	buf := &bytes.Buffer{}
	if err := Export(buf, pkg, 1<<20); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got, err := Import(bytes.NewReader(buf.Bytes()), 1<<20)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got.Manifest.ID != "sample" {
		t.Errorf("got manifest id %q, want sample", got.Manifest.ID)
	}
	if string(got.README) != "# Sample\n" {
		t.Errorf("got readme %q", got.README)
	}
}

func TestInspect_ReadsManifestOnly(t *testing.T) {
	pkg := &Package{Manifest: testManifest()}
	buf := &bytes.Buffer{}
	if err := Export(buf, pkg, 1<<20); err != nil {
		t.Fatalf("Export: %v", err)
	}

	m, err := Inspect(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if m.ID != "sample" {
		t.Errorf("got id %q, want sample", m.ID)
	}
}

func TestImport_RejectsCorruptedChecksum(t *testing.T) {
	pkg := &Package{Manifest: testManifest()}
	buf := &bytes.Buffer{}
	if err := Export(buf, pkg, 1<<20); err != nil {
		t.Fatalf("Export: %v", err)
	}

	corrupted := buf.Bytes()
	// Flip a byte near the end of the compressed data, just ahead of the
	// gzip CRC-32/size trailer, so the archive fails its integrity check.
	if len(corrupted) > 40 {
		corrupted[len(corrupted)-10] ^= 0xFF
	}

	if _, err := Import(bytes.NewReader(corrupted), 1<<20); err == nil {
		t.Fatal("expected an error from a corrupted archive")
	}
}

func TestExport_RejectsOversizedPackage(t *testing.T) {
	pkg := &Package{Manifest: testManifest(), Image: make([]byte, 100)}
	buf := &bytes.Buffer{}
	err := Export(buf, pkg, 10)
	if err == nil {
		t.Fatal("expected size-cap error")
	}
	if _, ok := err.(*ErrInvalidPackage); !ok {
		t.Fatalf("expected *ErrInvalidPackage, got %T", err)
	}
}
