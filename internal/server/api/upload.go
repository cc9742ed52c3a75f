package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/upload"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// UploadProcessor runs detection over uploaded files.
type UploadProcessor interface {
	Process(ctx context.Context, filename string, r io.Reader, confidence float64) (*upload.Result, error)
	ProcessedPath(fileID string) (path, contentType string, err error)
}

// UploadHandler serves file upload and download.
type UploadHandler struct {
	processor UploadProcessor
	maxBytes  int64
	logger    *zap.Logger
}

// NewUploadHandler creates a new UploadHandler accepting bodies up to maxBytes.
func NewUploadHandler(p UploadProcessor, maxBytes int64, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{processor: p, maxBytes: maxBytes, logger: logger}
}

// Register mounts the handler's routes on r.
func (h *UploadHandler) Register(r *mux.Router) {
	r.HandleFunc("/upload", h.upload).Methods(http.MethodPost)
	r.HandleFunc("/download/{file_id}", h.download).Methods(http.MethodGet)
}

// upload handles POST /upload with a multipart "file" and optional "confidence".
func (h *UploadHandler) upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "A file is required")
		return
	}
	defer file.Close()

	confidence := 0.0
	if v := r.FormValue("confidence"); v != "" {
		confidence, err = strconv.ParseFloat(v, 64)
		if err != nil || confidence < 0 || confidence > 1 {
			writeDetail(w, http.StatusBadRequest, "Confidence must be a number between 0 and 1")
			return
		}
	}

	h.logger.Info("received file upload", zap.String("filename", header.Filename), zap.Float64("confidence", confidence))

	result, err := h.processor.Process(r.Context(), header.Filename, file, confidence)
	switch {
	case errors.Is(err, upload.ErrUnsupportedType):
		writeDetail(w, http.StatusBadRequest, "Unsupported file type. Please upload an image (jpg, png, bmp) or video (mp4, avi, mov, mkv)")
		return
	case errors.Is(err, upload.ErrUnreadable):
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Error processing file: %v", err))
		return
	case err != nil:
		h.logger.Error("error processing file", zap.String("filename", header.Filename), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error processing file: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// download handles GET /download/{file_id}.
func (h *UploadHandler) download(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]

	path, contentType, err := h.processor.ProcessedPath(fileID)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Processed file not found")
		return
	}

	h.logger.Info("serving file for download", zap.String("path", path))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="processed%s"`, filepath.Ext(path)))
	http.ServeFile(w, r, path)
}
