package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/guidance"
)

// GatewayHandler serves photo submission and the guidance stream.
type GatewayHandler struct {
	classifier   guidance.Classifier
	guide        guidance.Guide
	maxFileBytes int64
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewGatewayHandler creates a new GatewayHandler. Files of maxFileBytes or
// more are rejected.
func NewGatewayHandler(c guidance.Classifier, g guidance.Guide, maxFileBytes int64, logger *zap.Logger) *GatewayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayHandler{
		classifier:   c,
		guide:        g,
		maxFileBytes: maxFileBytes,
		validate:     validator.New(),
		logger:       logger,
	}
}

// Register mounts the handler's routes on r.
func (h *GatewayHandler) Register(r *mux.Router) {
	r.HandleFunc("/submit", h.submit).Methods(http.MethodPost)
	r.HandleFunc("/stream", h.stream).Methods(http.MethodGet)
}

// submitForm mirrors the multipart fields of POST /submit.
type submitForm struct {
	HasFile  bool   `validate:"eq=true"`
	FileSize int64  `validate:"ltfield=MaxSize"`
	FileExt  string `validate:"oneof=png jpg jpeg"`
	MaxSize  int64
	Location string `validate:"required"`
}

var submitMessages = map[string]struct{ path, message string }{
	"HasFile":  {"file", "Invalid file"},
	"FileSize": {"file", "Max size is 5MB."},
	"FileExt":  {"file", "Only .png, .jpg, & .jpeg formats are supported."},
	"Location": {"location", "Location is required"},
}

type validationIssue struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

type validationResponse struct {
	Success bool              `json:"success"`
	Issues  []validationIssue `json:"issues"`
}

type submitResponse struct {
	Location   string `json:"location"`
	ImageClass string `json:"imageClass"`
}

// submit handles POST /submit: classify the photo and echo the location.
func (h *GatewayHandler) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		message := submitMessages["HasFile"].message
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = submitMessages["FileSize"].message
		}
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			Issues: []validationIssue{{Path: []string{"file"}, Message: message}},
		})
		return
	}

	form := submitForm{
		MaxSize:  h.maxFileBytes,
		Location: r.FormValue("location"),
	}
	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		form.HasFile = true
		form.FileSize = header.Size
		form.FileExt = strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	}

	if issues := h.check(form); len(issues) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Issues: issues})
		return
	}

	pred, err := h.classifier.Classify(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("error classifying image", zap.String("filename", header.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to classify the image: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{Location: form.Location, ImageClass: pred.ClassName})
}

// check validates form and returns one issue per failing field. File
// checks after a missing file are skipped.
func (h *GatewayHandler) check(form submitForm) []validationIssue {
	err := h.validate.Struct(form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []validationIssue{{Path: []string{}, Message: err.Error()}}
	}

	issues := make([]validationIssue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if !form.HasFile && (fe.Field() == "FileSize" || fe.Field() == "FileExt") {
			continue
		}
		m, ok := submitMessages[fe.Field()]
		if !ok {
			continue
		}
		issues = append(issues, validationIssue{Path: []string{m.path}, Message: m.message})
	}
	return issues
}

// stream handles GET /stream as Server-Sent Events: one "message" event per
// chunk with increasing ids, then "[DONE]".
func (h *GatewayHandler) stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := guidance.Request{
		Location:   q.Get("location"),
		ImageClass: q.Get("imageClass"),
		Language:   q.Get("language"),
	}
	if req.Location == "" || req.ImageClass == "" {
		writeError(w, http.StatusBadRequest, "Missing query parameters: location and imageClass are required")
		return
	}

	sse, err := newEventWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := 0
	err = h.guide.Stream(r.Context(), req, func(chunk string) error {
		if err := sse.write("message", strconv.Itoa(id), chunk); err != nil {
			return err
		}
		id++
		return nil
	})
	if err != nil {
		h.logger.Error("guidance stream failed",
			zap.String("location", req.Location),
			zap.String("image_class", req.ImageClass),
			zap.Error(err),
		)
		_ = sse.write("error", "", "An error occurred during streaming with Gemini!")
		return
	}

	_ = sse.write("message", "", "[DONE]")
}

// eventWriter writes text/event-stream frames and flushes after each one.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventWriter{w: w, flusher: flusher}, nil
}

// write sends one event. Multi-line data is split across data fields.
func (e *eventWriter) write(event, id, data string) error {
	var b strings.Builder
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if event != "" {
		b.WriteString("event: " + event + "\n")
	}
	if id != "" {
		b.WriteString("id: " + id + "\n")
	}
	b.WriteString("\n")

	if _, err := e.w.Write([]byte(b.String())); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
