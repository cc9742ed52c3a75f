package rtc

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// ffmpegWaitDelay bounds how long a finished ffmpeg process may hold its pipes.
const ffmpegWaitDelay = 2 * time.Second

// FrameDecoder turns VP8 RTP packets into fixed-size RGBA frames.
type FrameDecoder interface {
	WriteRTP(pkt *rtp.Packet) error
	// ReadFrame blocks until the next frame is decoded. It returns io.EOF
	// once the decoder is closed.
	ReadFrame() (*image.RGBA, error)
	Close() error
}

// FrameEncoder turns RGBA frames into VP8 samples.
type FrameEncoder interface {
	WriteFrame(img *image.RGBA) error
	// ReadSample blocks until the next encoded frame is available.
	ReadSample() (media.Sample, error)
	Close() error
}

// Codec creates per-session decoders and encoders.
type Codec interface {
	NewDecoder(ctx context.Context) (FrameDecoder, error)
	NewEncoder(ctx context.Context) (FrameEncoder, error)
}

// FFmpegCodec transcodes through an ffmpeg child process per stream. Frames
// are exchanged as raw RGBA at Width x Height.
type FFmpegCodec struct {
	Width  int
	Height int
	FPS    int
	Logger *zap.Logger
}

// NewFFmpegCodec checks that ffmpeg is installed and returns a codec for
// frames of the given size.
func NewFFmpegCodec(width, height, fps int, logger *zap.Logger) (*FFmpegCodec, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegCodec{Width: width, Height: height, FPS: fps, Logger: logger}, nil
}

func (c *FFmpegCodec) size() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// run starts stream in the background and closes the pipes when it exits.
func (c *FFmpegCodec) run(stream *ffmpeg.Stream, stdin *io.PipeReader, stdout *io.PipeWriter) {
	cmd := stream.Compile()
	cmd.WaitDelay = ffmpegWaitDelay

	go func() {
		err := cmd.Run()
		if err != nil {
			c.Logger.Debug("ffmpeg exited", zap.Error(err))
		} else {
			err = io.EOF
		}
		stdin.CloseWithError(err)
		stdout.CloseWithError(err)
	}()
}

// NewDecoder starts an ffmpeg process reading IVF and writing raw frames.
func (c *FFmpegCodec) NewDecoder(ctx context.Context) (FrameDecoder, error) {
	ctx, cancel := context.WithCancel(ctx)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{"f": "ivf", "loglevel": "error"}).
		Output("pipe:", ffmpeg.KwArgs{"f": "rawvideo", "pix_fmt": "rgba", "s": c.size()})
	// pipes are stored on the stream context, so set it first
	stream.Context = ctx
	stream = stream.WithInput(inR).WithOutput(outW)
	c.run(stream, inR, outW)

	ivf, err := ivfwriter.NewWith(inW)
	if err != nil {
		cancel()
		inW.Close()
		outR.Close()
		return nil, fmt.Errorf("failed to start VP8 decoder: %w", err)
	}

	return &ffmpegDecoder{
		ivf:    ivf,
		in:     inW,
		out:    outR,
		width:  c.Width,
		height: c.Height,
		cancel: cancel,
	}, nil
}

// NewEncoder starts an ffmpeg process reading raw frames and writing IVF.
func (c *FFmpegCodec) NewEncoder(ctx context.Context) (FrameEncoder, error) {
	ctx, cancel := context.WithCancel(ctx)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f":        "rawvideo",
		"pix_fmt":  "rgba",
		"s":        c.size(),
		"r":        c.FPS,
		"loglevel": "error",
	}).
		Output("pipe:", ffmpeg.KwArgs{
			"f":             "ivf",
			"c:v":           "libvpx",
			"deadline":      "realtime",
			"cpu-used":      8,
			"b:v":           "1M",
			"g":             c.FPS,
			"auto-alt-ref":  0,
			"lag-in-frames": 0,
		})
	stream.Context = ctx
	stream = stream.WithInput(inR).WithOutput(outW)
	c.run(stream, inR, outW)

	return &ffmpegEncoder{
		in:       inW,
		out:      outR,
		width:    c.Width,
		height:   c.Height,
		duration: time.Second / time.Duration(c.FPS),
		cancel:   cancel,
	}, nil
}

type ffmpegDecoder struct {
	ivf    *ivfwriter.IVFWriter
	in     *io.PipeWriter
	out    *io.PipeReader
	width  int
	height int
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (d *ffmpegDecoder) WriteRTP(pkt *rtp.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return io.ErrClosedPipe
	}
	return d.ivf.WriteRTP(pkt)
}

func (d *ffmpegDecoder) ReadFrame() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	if _, err := io.ReadFull(d.out, img.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil, io.EOF
		}
		return nil, err
	}
	return img, nil
}

func (d *ffmpegDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	err := d.ivf.Close()
	d.in.Close()
	d.out.Close()
	d.cancel()
	return err
}

type ffmpegEncoder struct {
	in       *io.PipeWriter
	out      *io.PipeReader
	width    int
	height   int
	duration time.Duration
	cancel   context.CancelFunc

	// reader is created on the first ReadSample since parsing the IVF header
	// blocks until ffmpeg has encoded a frame.
	reader *ivfreader.IVFReader
}

func (e *ffmpegEncoder) WriteFrame(img *image.RGBA) error {
	if b := img.Bounds(); b.Dx() != e.width || b.Dy() != e.height {
		resized := imaging.Resize(img, e.width, e.height, imaging.Linear)
		_, err := e.in.Write(resized.Pix)
		return err
	}

	if img.Stride == e.width*4 && img.Rect.Min == (image.Point{}) {
		_, err := e.in.Write(img.Pix[:e.width*e.height*4])
		return err
	}

	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		start := img.PixOffset(img.Rect.Min.X, y)
		if _, err := e.in.Write(img.Pix[start : start+e.width*4]); err != nil {
			return err
		}
	}
	return nil
}

func (e *ffmpegEncoder) ReadSample() (media.Sample, error) {
	if e.reader == nil {
		reader, _, err := ivfreader.NewWith(e.out)
		if err != nil {
			return media.Sample{}, err
		}
		e.reader = reader
	}

	frame, _, err := e.reader.ParseNextFrame()
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: e.duration}, nil
}

func (e *ffmpegEncoder) Close() error {
	e.in.Close()
	e.out.Close()
	e.cancel()
	return nil
}
