package web

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/jobs"
)

const uploadForm = "/upload/picture"

func (s *Server) pictureForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "upload_picture.html", map[string]any{
		"Title":       "Upload Pictures",
		"ComponentID": r.URL.Query().Get("component_id"),
	})
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	return r.ParseMultipartForm(s.cfg.MaxUploadBytes)
}

func (s *Server) uploadPicture(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.redirect(w, r, "danger", "Upload failed: "+err.Error(), uploadForm)
		return
	}
	id := strings.TrimSpace(r.FormValue("component_id"))
	back := uploadForm
	if id == "" {
		s.redirect(w, r, "danger", "Component ID is required.", back)
		return
	}
	back = uploadForm + "?component_id=" + id
	if _, err := s.store.GetComponent(r.Context(), id); err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			s.redirect(w, r, "danger", fmt.Sprintf("Component '%s' not found.", id), back)
			return
		}
		s.renderError(w, r, err)
		return
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		s.redirect(w, r, "danger", "No image files selected.", back)
		return
	}
	var (
		uploads []inventory.ImageUpload
		skipped int
	)
	for _, fh := range headers {
		if fh.Filename == "" || !inventory.IsImageFile(fh.Filename) {
			skipped++
			continue
		}
		f, err := fh.Open()
		if err != nil {
			skipped++
			continue
		}
		defer f.Close()
		uploads = append(uploads, inventory.ImageUpload{Name: fh.Filename, Content: f})
	}
	if len(uploads) == 0 {
		s.redirect(w, r, "danger", "No valid image files were uploaded. Accepted: png, jpg, jpeg, gif, bmp, tiff.", back)
		return
	}

	imgs, err := s.store.AddImages(r.Context(), id, r.FormValue("description"), orDefault(r.FormValue("uploaded_by"), actor(r)), uploads)
	if err != nil {
		s.redirect(w, r, "danger", err.Error(), back)
		return
	}
	msg := fmt.Sprintf("%d images uploaded successfully for component %s", len(imgs), id)
	if skipped > 0 {
		msg += fmt.Sprintf(" (%d files skipped)", skipped)
	}
	s.redirect(w, r, "success", msg, componentURL(id))
}

// uploadEdgeImage stores an edge image and queues it for OCR analysis. The
// worker pool turns the job into an edge_imaging test result.
func (s *Server) uploadEdgeImage(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		s.renderError(w, r, fmt.Errorf("%w: image analysis is not enabled", inventory.ErrValidation))
		return
	}
	if err := s.parseMultipart(w, r); err != nil {
		s.redirect(w, r, "danger", "Upload failed: "+err.Error(), "/")
		return
	}
	id := strings.TrimSpace(r.FormValue("component_id"))
	if id == "" {
		s.redirect(w, r, "danger", "Component ID is required.", "/")
		return
	}
	if _, err := s.store.GetComponent(r.Context(), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	file, fh, err := r.FormFile("image")
	if err != nil {
		s.redirect(w, r, "danger", "No image file selected.", componentURL(id))
		return
	}
	defer file.Close()
	if !inventory.IsImageFile(fh.Filename) {
		s.redirect(w, r, "danger", fmt.Sprintf("%s is not an accepted image type.", fh.Filename), componentURL(id))
		return
	}

	path, digest, err := s.stageUpload(file, fh)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	// The same image for the same component folds into one active job.
	key := id + ":" + digest
	job, err := s.jobStore.Enqueue(r.Context(), &jobs.AnalysisJob{
		ComponentID:    id,
		ImagePath:      path,
		TestType:       r.FormValue("test_type"),
		Notes:          r.FormValue("notes"),
		RequestedBy:    orDefault(r.FormValue("tested_by"), actor(r)),
		IdempotencyKey: &key,
	})
	if err != nil {
		_ = os.Remove(path)
		s.renderError(w, r, err)
		return
	}
	if job.ImagePath != path {
		_ = os.Remove(path)
	}
	s.logger.Info("edge image queued", zap.String("component", id), zap.String("job", job.ID))
	s.redirect(w, r, "success", fmt.Sprintf("Edge image queued for analysis (job %s)", job.ID), componentURL(id))
}

// EdgeUploadDir is where edge images wait for analysis.
func EdgeUploadDir(dataDir string) string {
	return filepath.Join(dataDir, "uploads", "edge")
}

// stageUpload writes an upload below EdgeUploadDir and returns its path and
// content digest.
func (s *Server) stageUpload(src multipart.File, fh *multipart.FileHeader) (string, string, error) {
	dir := EdgeUploadDir(s.store.DataDir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload directory: %w", err)
	}
	dest := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("create upload: %w", err)
	}
	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, h), src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", "", fmt.Errorf("write upload: %w", err)
	}
	return dest, hex.EncodeToString(h.Sum(nil)), nil
}

// serveFile streams a file from the data directory. Paths that escape it
// or name something other than a regular file are refused.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	full, err := s.store.ResolvePath(rel)
	if err != nil {
		http.Error(w, http.StatusText(statusFor(err)), statusFor(err))
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if !info.Mode().IsRegular() {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	f, err := os.Open(full)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
