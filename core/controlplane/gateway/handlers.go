package gateway

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zavora-ai/imagegen/core/infra/artifacts"
	"github.com/zavora-ai/imagegen/core/infra/logging"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
		"version":   s.build.Version,
		"build":     s.build,
	}
	if s.bus != nil {
		body["bus"] = map[string]any{
			"connected": s.bus.IsConnected(),
			"status":    s.bus.Status(),
		}
	}
	writeData(w, body)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if s.init == nil {
		writeJSON(w, http.StatusOK, envelope{Success: true})
		return
	}
	if err := s.init(); err != nil {
		logging.Error(logComponent, "init directories failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInitFailed, "Failed to initialize directories", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeInvalidParam, "Image is too large", err)
			return
		}
		writeError(w, http.StatusBadRequest, codeMissingImage, "Image is required", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeMissingImage, "Image is required", nil)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeMissingImage, "Image could not be read", err)
		return
	}
	if len(content) == 0 {
		writeError(w, http.StatusBadRequest, codeMissingImage, "Image is empty", nil)
		return
	}
	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(content)
	}

	d, err := s.store.Save(r.Context(), content, artifacts.SaveRequest{
		MimeType: mimeType,
		Naming:   artifacts.NamingContentHash,
	})
	if err != nil {
		logging.Error(logComponent, "upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeUploadFailed, "Failed to upload image", err)
		return
	}
	writeData(w, map[string]any{
		"imageUrl":    d.URL,
		"description": nil,
		"metadata":    d,
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err == nil && limit == 0 {
		err = fmt.Errorf("limit must be at least 1")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParam, "limit must be a positive integer", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParam, "offset must be a non-negative integer", err)
		return
	}
	images, err := s.store.List(r.Context(), limit+offset)
	if err != nil {
		logging.Error(logComponent, "list images failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeListFailed, "Failed to list images", err)
		return
	}
	if offset >= len(images) {
		images = []artifacts.Descriptor{}
	} else {
		images = images[offset:]
	}
	writeData(w, map[string]any{
		"images": images,
		"pagination": map[string]int{
			"limit":  limit,
			"offset": offset,
			"total":  len(images),
		},
	})
}

func (s *Server) handleCleanupImages(w http.ResponseWriter, r *http.Request) {
	retain, err := queryInt(r, "retain", s.retain)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParam, "retain must be a non-negative integer", err)
		return
	}
	deleted, err := s.store.Cleanup(r.Context(), retain)
	if err != nil {
		logging.Error(logComponent, "cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeCleanupFailed, "Failed to clean up images", err)
		return
	}
	writeData(w, map[string]any{
		"deletedCount": deleted,
		"retain":       retain,
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	d, err := s.store.Get(r.Context(), id)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("Image with ID %s not found", id), nil)
		return
	}
	if err != nil {
		logging.Error(logComponent, "get image failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, codeGetFailed, "Failed to get image metadata", err)
		return
	}
	writeData(w, map[string]any{"metadata": d})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("Image with ID %s not found", id), nil)
		return
	}
	if err != nil {
		logging.Error(logComponent, "delete image failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, codeDeleteFailed, "Failed to delete image", err)
		return
	}
	writeData(w, map[string]any{"message": fmt.Sprintf("Image %s deleted successfully", id)})
}

func (s *Server) handleImageFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	data, contentType, err := s.store.Open(r.Context(), filename)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("Image file %s not found", filename), nil)
		return
	}
	if err != nil {
		logging.Error(logComponent, "read image file failed", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, codeGetFailed, "Failed to read image", err)
		return
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return v, nil
}
