package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgehook/forgehook/internal/codec"
	"github.com/forgehook/forgehook/internal/lifecycle"
	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/repository"
)

// ImageExporter is the Container Supervisor's .fhk-relevant surface: save
// a running image to a tarball for Export, load one back in for Import.
type ImageExporter interface {
	ImageSave(ctx context.Context, imageTag string) (io.ReadCloser, error)
	ImageLoad(ctx context.Context, r io.Reader) error
}

// PackagesHandler serves /packages/{export,inspect,import}.
type PackagesHandler struct {
	repo            repository.Repository
	manager         *lifecycle.Manager
	containers      ImageExporter
	maxPackageBytes int64
}

// NewPackagesHandler wires the packages handler. containers may be nil if
// no container-runtime plugins are ever exported/imported in this
// deployment; Export/Import return EXPORT_FAILED/IMPORT_FAILED for a
// container-runtime plugin in that case rather than panicking.
func NewPackagesHandler(repo repository.Repository, manager *lifecycle.Manager, containers ImageExporter, maxPackageBytes int64) *PackagesHandler {
	return &PackagesHandler{repo: repo, manager: manager, containers: containers, maxPackageBytes: maxPackageBytes}
}

// Export handles POST /packages/export/{id}: streams a .fhk archive
// containing the plugin's manifest and, for a container-runtime plugin,
// its image.tar (saved live from the Container Supervisor). The archive
// is built in memory before any header is written, so a failure midway
// still surfaces as a clean JSON error instead of a truncated stream.
func (h *PackagesHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.repo.GetPlugin(r.Context(), id)
	if err != nil {
		WriteErrorAuto(w, ErrExportFailed, "failed loading plugin", nil)
		return
	}
	if inst == nil {
		WriteErrorAuto(w, ErrPluginNotFound, "plugin not found", nil)
		return
	}

	pkg := &codec.Package{Manifest: inst.Manifest}
	if inst.Runtime == models.RuntimeContainer {
		if h.containers == nil {
			WriteErrorAuto(w, ErrExportFailed, "container image export is not configured", nil)
			return
		}
		rc, err := h.containers.ImageSave(r.Context(), inst.Manifest.Entrypoint.ImageTag)
		if err != nil {
			WriteErrorAuto(w, ErrExportFailed, "failed saving container image: "+err.Error(), nil)
			return
		}
		image, err := io.ReadAll(io.LimitReader(rc, h.maxPackageBytes+1))
		rc.Close()
		if err != nil {
			WriteErrorAuto(w, ErrExportFailed, "failed reading container image: "+err.Error(), nil)
			return
		}
		if int64(len(image)) > h.maxPackageBytes {
			WriteErrorAuto(w, ErrExportFailed, "container image exceeds max package size", nil)
			return
		}
		pkg.Image = image
	}

	var buf bytes.Buffer
	if err := codec.Export(&buf, pkg, h.maxPackageBytes); err != nil {
		WriteErrorAuto(w, ErrExportFailed, "failed building package: "+err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.fhk"`, inst.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

// Inspect handles POST /packages/inspect: multipart upload, manifest only.
func (h *PackagesHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	file, err := h.readUpload(r)
	if err != nil {
		WriteErrorAuto(w, ErrNoFile, err.Error(), nil)
		return
	}
	defer file.Close()

	manifest, err := codec.Inspect(file)
	if err != nil {
		WriteErrorAuto(w, ErrInvalidPackage, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// Import handles POST /packages/import: multipart upload, full install.
func (h *PackagesHandler) Import(w http.ResponseWriter, r *http.Request) {
	file, err := h.readUpload(r)
	if err != nil {
		WriteErrorAuto(w, ErrNoFile, err.Error(), nil)
		return
	}
	defer file.Close()

	pkg, err := codec.Import(file, h.maxPackageBytes)
	if err != nil {
		var invalid *codec.ErrInvalidPackage
		if errors.As(err, &invalid) {
			WriteErrorAuto(w, ErrInvalidPackage, err.Error(), nil)
			return
		}
		WriteErrorAuto(w, ErrImportFailed, err.Error(), nil)
		return
	}

	if pkg.Manifest.Runtime == models.RuntimeContainer {
		if len(pkg.Image) == 0 {
			WriteErrorAuto(w, ErrImportFailed, "package is missing image.tar for a container-runtime plugin", nil)
			return
		}
		if h.containers == nil {
			WriteErrorAuto(w, ErrImportFailed, "container image import is not configured", nil)
			return
		}
		if err := h.containers.ImageLoad(r.Context(), bytes.NewReader(pkg.Image)); err != nil {
			WriteErrorAuto(w, ErrImportFailed, "failed loading container image: "+err.Error(), nil)
			return
		}
	}

	inst, err := h.manager.Install(r.Context(), requestID(r), pkg.Manifest)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (h *PackagesHandler) readUpload(r *http.Request) (multipartFile, error) {
	if err := r.ParseMultipartForm(h.maxPackageBytes); err != nil {
		return nil, fmt.Errorf("parsing multipart upload: %w", err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file field in multipart upload: %w", err)
	}
	return file, nil
}

// multipartFile is the subset of multipart.File used here, named to
// avoid importing mime/multipart just for a parameter type alias.
type multipartFile interface {
	Read(p []byte) (n int, err error)
	Close() error
}
