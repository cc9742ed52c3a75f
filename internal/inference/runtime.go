// Package inference wraps ONNX Runtime sessions and the image preprocessing shared by the models.
package inference

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

var (
	envMu      sync.Mutex
	envStarted bool
)

// Init loads the ONNX Runtime shared library and initializes the environment.
// An empty libPath uses the library's default search path. Calling Init again is a no-op.
func Init(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envStarted {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}
	envStarted = true
	return nil
}

// Shutdown destroys the ONNX Runtime environment.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !envStarted {
		return nil
	}
	envStarted = false
	return ort.DestroyEnvironment()
}

// SessionSpec describes a single-input single-output float32 model.
type SessionSpec struct {
	ModelPath      string
	InputName      string
	OutputName     string
	InputShape     []int64
	OutputShape    []int64
	IntraOpThreads int
}

// Session is an ONNX session with preallocated input and output tensors.
type Session struct {
	session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// NewSession creates a session for spec. Init must have been called.
func NewSession(spec SessionSpec) (*Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	threads := spec.IntraOpThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(spec.ModelPath,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session for %s: %w", spec.ModelPath, err)
	}

	return &Session{session: session, Input: input, Output: output}, nil
}

// Run executes the model on the current contents of Input.
func (s *Session) Run() error {
	return s.session.Run()
}

// Destroy releases the session and its tensors.
func (s *Session) Destroy() error {
	return multierr.Combine(
		s.session.Destroy(),
		s.Input.Destroy(),
		s.Output.Destroy(),
	)
}
