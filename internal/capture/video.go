// Package capture reads and writes video files using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// Codec used for processed videos.
const DefaultCodec = "mp4v"

// ErrClosed is returned when reading from or writing to a closed video.
var ErrClosed = errors.New("video is closed")

// Source yields decoded frames from a video. ReadFrame returns io.EOF after
// the last frame.
type Source interface {
	ReadFrame() (image.Image, error)
	FPS() float64
	FrameCount() int
	Size() (width, height int)
	Close() error
}

// Sink accepts frames for an output video.
type Sink interface {
	WriteFrame(img image.Image) error
	Close() error
}

// fileSource manages a VideoCapture opened on a file.
type fileSource struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	fps     float64
	frames  int
	width   int
	height  int
}

// OpenSource opens the video at path for reading.
func OpenSource(path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}

	return &fileSource{
		capture: vc,
		mat:     gocv.NewMat(),
		fps:     vc.Get(gocv.VideoCaptureFPS),
		frames:  int(vc.Get(gocv.VideoCaptureFrameCount)),
		width:   int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// ReadFrame decodes the next frame.
func (s *fileSource) ReadFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil, ErrClosed
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, io.EOF
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

func (s *fileSource) FPS() float64     { return s.fps }
func (s *fileSource) FrameCount() int  { return s.frames }
func (s *fileSource) Size() (int, int) { return s.width, s.height }

// Close releases the capture and its frame buffer.
func (s *fileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	if cerr := s.mat.Close(); err == nil {
		err = cerr
	}
	return err
}

// fileSink manages a VideoWriter.
type fileSink struct {
	mu     sync.Mutex
	writer *gocv.VideoWriter
}

// CreateSink opens path for writing with the given codec (DefaultCodec when
// empty), frame rate and frame size.
func CreateSink(path, codec string, fps float64, width, height int) (Sink, error) {
	if codec == "" {
		codec = DefaultCodec
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}

	w, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("failed to create video %s", path)
	}
	return &fileSink{writer: w}, nil
}

// WriteFrame encodes img as the next frame.
func (s *fileSink) WriteFrame(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return ErrClosed
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	return s.writer.Write(mat)
}

// Close flushes and closes the output file.
func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
