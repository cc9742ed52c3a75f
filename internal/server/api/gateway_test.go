package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ayusman/ewaste/internal/guidance"
)

type fakeInference struct {
	prediction guidance.Prediction
	err        error
	filename   string
	calls      int
}

func (f *fakeInference) Classify(_ context.Context, filename string, r io.Reader) (*guidance.Prediction, error) {
	f.calls++
	f.filename = filename
	io.Copy(io.Discard, r)
	if f.err != nil {
		return nil, f.err
	}
	return &f.prediction, nil
}

func TestGatewayHandler_Submit(t *testing.T) {
	inf := &fakeInference{prediction: guidance.Prediction{ClassName: "Battery"}}
	r := newRouter(NewGatewayHandler(inf, guidance.NewMockGuide(), 5000000, nil))

	req := multipartRequest(t, "/submit",
		&formFile{field: "file", filename: "cell.JPG", contentType: "image/jpeg", data: []byte("jpeg")},
		map[string]string{"location": "Mumbai"},
	)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var response submitResponse
	decodeResponse(t, rec, &response)
	if response.Location != "Mumbai" || response.ImageClass != "Battery" {
		t.Errorf("unexpected response %+v", response)
	}
	if inf.filename != "cell.JPG" {
		t.Errorf("expected filename cell.JPG, got %s", inf.filename)
	}
}

func TestGatewayHandler_SubmitValidation(t *testing.T) {
	tests := []struct {
		name     string
		file     *formFile
		fields   map[string]string
		maxBytes int64
		want     []validationIssue
	}{
		{
			name:     "missing everything",
			maxBytes: 5000000,
			want: []validationIssue{
				{Path: []string{"file"}, Message: "Invalid file"},
				{Path: []string{"location"}, Message: "Location is required"},
			},
		},
		{
			name:     "wrong extension",
			file:     &formFile{field: "file", filename: "scan.gif", contentType: "image/gif", data: []byte("gif")},
			fields:   map[string]string{"location": "Pune"},
			maxBytes: 5000000,
			want:     []validationIssue{{Path: []string{"file"}, Message: "Only .png, .jpg, & .jpeg formats are supported."}},
		},
		{
			name:     "too large",
			file:     &formFile{field: "file", filename: "big.png", contentType: "image/png", data: make([]byte, 100)},
			fields:   map[string]string{"location": "Pune"},
			maxBytes: 100,
			want:     []validationIssue{{Path: []string{"file"}, Message: "Max size is 5MB."}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := &fakeInference{}
			r := newRouter(NewGatewayHandler(inf, guidance.NewMockGuide(), tt.maxBytes, nil))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, multipartRequest(t, "/submit", tt.file, tt.fields))

			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, rec.Code)
			}

			var response validationResponse
			decodeResponse(t, rec, &response)
			if response.Success {
				t.Error("expected success false")
			}
			if len(response.Issues) != len(tt.want) {
				t.Fatalf("expected issues %+v, got %+v", tt.want, response.Issues)
			}
			for i, issue := range tt.want {
				got := response.Issues[i]
				if got.Message != issue.Message || strings.Join(got.Path, ".") != strings.Join(issue.Path, ".") {
					t.Errorf("issue %d: expected %+v, got %+v", i, issue, got)
				}
			}
			if inf.calls != 0 {
				t.Errorf("inference should not be called, got %d calls", inf.calls)
			}
		})
	}
}

func TestGatewayHandler_SubmitInferenceError(t *testing.T) {
	inf := &fakeInference{err: errors.New("500 Internal Server Error")}
	r := newRouter(NewGatewayHandler(inf, guidance.NewMockGuide(), 5000000, nil))

	req := multipartRequest(t, "/submit",
		&formFile{field: "file", filename: "a.png", contentType: "image/png", data: []byte("png")},
		map[string]string{"location": "Pune"},
	)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	var response errorResponse
	decodeResponse(t, rec, &response)
	if response.Error != "Failed to classify the image: 500 Internal Server Error" {
		t.Errorf("unexpected error %q", response.Error)
	}
}

func TestGatewayHandler_Stream(t *testing.T) {
	t.Run("missing parameters", func(t *testing.T) {
		r := newRouter(NewGatewayHandler(&fakeInference{}, guidance.NewMockGuide(), 5000000, nil))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?location=Pune", nil))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
		var response errorResponse
		decodeResponse(t, rec, &response)
		if response.Error != "Missing query parameters: location and imageClass are required" {
			t.Errorf("unexpected error %q", response.Error)
		}
	})

	t.Run("chunks then done", func(t *testing.T) {
		guide := guidance.NewMockGuide("line one\nline two", "end")
		r := newRouter(NewGatewayHandler(&fakeInference{}, guide, 5000000, nil))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?location=Pune&imageClass=Mouse", nil))

		want := "data: line one\ndata: line two\nevent: message\nid: 0\n\n" +
			"data: end\nevent: message\nid: 1\n\n" +
			"data: [DONE]\nevent: message\n\n"
		if rec.Body.String() != want {
			t.Errorf("expected body %q, got %q", want, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("expected Content-Type text/event-stream, got %s", ct)
		}
	})

	t.Run("guide error", func(t *testing.T) {
		guide := guidance.NewMockGuide("partial")
		guide.SetError(errors.New("quota"))
		r := newRouter(NewGatewayHandler(&fakeInference{}, guide, 5000000, nil))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?location=Pune&imageClass=Mouse", nil))

		want := "data: partial\nevent: message\nid: 0\n\n" +
			"data: An error occurred during streaming with Gemini!\nevent: error\n\n"
		if rec.Body.String() != want {
			t.Errorf("expected body %q, got %q", want, rec.Body.String())
		}
	})
}
