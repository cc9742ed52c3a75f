// Package upload runs the detector over uploaded images and videos and keeps
// the annotated copies for download.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/capture"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/store"
)

var (
	// ErrUnsupportedType is returned for extensions that are neither images nor videos.
	ErrUnsupportedType = errors.New("unsupported file type, please upload an image (jpg, png, bmp) or video (mp4, avi, mov, mkv)")
	// ErrUnreadable is returned when an upload cannot be decoded.
	ErrUnreadable = errors.New("could not read file")
	// ErrNotFound is returned when no processed file exists for an id.
	ErrNotFound = errors.New("processed file not found")
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
}

var videoExtensions = map[string]string{
	".mp4": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
}

// downloadOrder is the order in which processed files are looked up.
var downloadOrder = []string{".jpg", ".jpeg", ".png", ".bmp", ".mp4", ".avi", ".mov", ".mkv"}

// Kind classifies an upload by extension.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindVideo
)

// KindOf returns the kind of a file name, matching its extension case-insensitively.
func KindOf(filename string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := imageExtensions[ext]; ok {
		return KindImage
	}
	if _, ok := videoExtensions[ext]; ok {
		return KindVideo
	}
	return KindUnsupported
}

// ContentType returns the MIME type for a supported extension.
func ContentType(ext string) string {
	ext = strings.ToLower(ext)
	if ct, ok := imageExtensions[ext]; ok {
		return ct
	}
	return videoExtensions[ext]
}

// Result is the response for a processed upload.
type Result struct {
	Detections []detector.Detection `json:"detections"`
	FileID     string               `json:"file_id"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	IsVideo    bool                 `json:"is_video"`
	Duration   *float64             `json:"duration"`
}

// Recorder persists processed uploads.
type Recorder interface {
	Create(u *store.Upload) error
}

// Config locates the upload and output directories.
type Config struct {
	UploadDir    string
	ProcessedDir string
	// Confidence is used when a request does not set one.
	Confidence float64
}

// Processor saves uploads, runs detection and writes annotated copies.
type Processor struct {
	config   Config
	detector detector.Detector
	recorder Recorder
	logger   *zap.Logger

	openVideo   func(path string) (capture.Source, error)
	createVideo func(path string, fps float64, width, height int) (capture.Sink, error)
}

// NewProcessor creates the upload and processed directories. recorder may be nil.
func NewProcessor(config Config, det detector.Detector, recorder Recorder, logger *zap.Logger) (*Processor, error) {
	for _, dir := range []string{config.UploadDir, config.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		config:    config,
		detector:  det,
		recorder:  recorder,
		logger:    logger,
		openVideo: capture.OpenSource,
		createVideo: func(path string, fps float64, width, height int) (capture.Sink, error) {
			return capture.CreateSink(path, capture.DefaultCodec, fps, width, height)
		},
	}, nil
}

// Process stores r under a new file id and runs detection on it. A
// confidence of zero or less uses the configured default. The original
// upload is removed once processing succeeds; on failure both files are
// removed.
func (p *Processor) Process(ctx context.Context, filename string, r io.Reader, confidence float64) (*Result, error) {
	if confidence <= 0 {
		confidence = p.config.Confidence
	}

	kind := KindOf(filename)
	if kind == KindUnsupported {
		return nil, ErrUnsupportedType
	}

	fileID := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	uploadPath := filepath.Join(p.config.UploadDir, fileID+ext)
	outputPath := filepath.Join(p.config.ProcessedDir, fileID+"_processed"+ext)

	logger := p.logger.With(zap.String("file", filename), zap.String("file_id", fileID))
	logger.Info("received file upload", zap.Float64("confidence", confidence))

	if err := p.save(uploadPath, r); err != nil {
		logger.Error("failed to save upload", zap.Error(err))
		return nil, fmt.Errorf("error saving file: %w", err)
	}

	result := &Result{FileID: fileID, IsVideo: kind == KindVideo}
	var err error
	if kind == KindImage {
		logger.Info("processing image")
		result.Detections, result.Width, result.Height, err = p.ProcessImage(ctx, uploadPath, outputPath, confidence)
	} else {
		logger.Info("processing video")
		var duration float64
		result.Detections, duration, result.Width, result.Height, err = p.ProcessVideo(ctx, uploadPath, outputPath, confidence)
		result.Duration = &duration
	}
	if err != nil {
		logger.Error("failed to process file", zap.Error(err))
		removeQuietly(uploadPath, outputPath)
		return nil, err
	}

	counts := make(map[string]int)
	for _, d := range result.Detections {
		counts[d.ClassName]++
	}
	logger.Info("file processed", zap.Any("classes", counts))

	if p.recorder != nil {
		rec := &store.Upload{
			FileID:        fileID,
			OriginalName:  filename,
			Ext:           ext,
			IsVideo:       result.IsVideo,
			UploadPath:    uploadPath,
			ProcessedPath: outputPath,
			Width:         result.Width,
			Height:        result.Height,
			Detections:    result.Detections,
		}
		if result.Duration != nil {
			rec.Duration = *result.Duration
		}
		if err := p.recorder.Create(rec); err != nil {
			logger.Warn("failed to record upload", zap.Error(err))
		}
	}

	if err := os.Remove(uploadPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not remove uploaded file", zap.String("path", uploadPath), zap.Error(err))
	}

	return result, nil
}

// ProcessedPath returns the annotated file for fileID and its content type.
func (p *Processor) ProcessedPath(fileID string) (string, string, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return "", "", ErrNotFound
	}

	for _, ext := range downloadOrder {
		path := filepath.Join(p.config.ProcessedDir, fileID+"_processed"+ext)
		if _, err := os.Stat(path); err == nil {
			return path, ContentType(ext), nil
		}
	}
	return "", "", ErrNotFound
}

func (p *Processor) save(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func removeQuietly(paths ...string) {
	for _, path := range paths {
		_ = os.Remove(path)
	}
}
