package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/ayusman/ewaste/internal/classifier"
	"github.com/ayusman/ewaste/internal/store"
)

// PredictionLog stores classifier results.
type PredictionLog interface {
	Create(p *store.Prediction) error
	ListRecent(limit int) ([]*store.Prediction, error)
}

// PredictHandler serves the image classification routes.
type PredictHandler struct {
	classifier classifier.Classifier
	history    PredictionLog
	maxBytes   int64
	logger     *zap.Logger
}

// NewPredictHandler creates a new PredictHandler. history may be nil.
func NewPredictHandler(c classifier.Classifier, history PredictionLog, maxBytes int64, logger *zap.Logger) *PredictHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictHandler{classifier: c, history: history, maxBytes: maxBytes, logger: logger}
}

// Register mounts the handler's routes on r.
func (h *PredictHandler) Register(r *mux.Router) {
	r.HandleFunc("/predict/", h.predict).Methods(http.MethodPost)
	r.HandleFunc("/predictions", h.predictions).Methods(http.MethodGet)
}

type predictionResponse struct {
	ID         int64   `json:"id"`
	Filename   string  `json:"filename"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

type listPredictionsResponse struct {
	Predictions []predictionResponse `json:"predictions"`
}

// predict handles POST /predict/ with a multipart "file".
func (h *PredictHandler) predict(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "A file is required")
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		writeDetail(w, http.StatusBadRequest, "Invalid file type. Please upload an image.")
		return
	}

	img, err := imaging.Decode(file, imaging.AutoOrientation(true))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error processing image: %v", err))
		return
	}

	pred, err := h.classifier.Classify(r.Context(), img)
	if err != nil {
		h.logger.Error("classification failed", zap.String("filename", header.Filename), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error processing image: %v", err))
		return
	}

	h.logger.Info("classified image",
		zap.String("filename", header.Filename),
		zap.String("class_name", pred.ClassName),
		zap.Float64("confidence", pred.Confidence),
	)

	if h.history != nil {
		rec := &store.Prediction{
			Filename:   header.Filename,
			ClassID:    pred.ClassID,
			ClassName:  pred.ClassName,
			Confidence: pred.Confidence,
		}
		if err := h.history.Create(rec); err != nil {
			h.logger.Warn("failed to record prediction", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, pred)
}

// predictions handles GET /predictions?limit=N.
func (h *PredictHandler) predictions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, listPredictionsResponse{Predictions: []predictionResponse{}})
		return
	}

	limit := store.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	preds, err := h.history.ListRecent(limit)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Failed to list predictions")
		return
	}

	response := listPredictionsResponse{
		Predictions: make([]predictionResponse, 0, len(preds)),
	}
	for _, p := range preds {
		response.Predictions = append(response.Predictions, predictionResponse{
			ID:         p.ID,
			Filename:   p.Filename,
			ClassID:    p.ClassID,
			ClassName:  p.ClassName,
			Confidence: p.Confidence,
			CreatedAt:  p.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
