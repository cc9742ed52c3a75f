package guidance

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

// Prediction is the classification service response.
type Prediction struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

// Classifier identifies the category of an uploaded photo.
type Classifier interface {
	Classify(ctx context.Context, filename string, r io.Reader) (*Prediction, error)
}

// InferenceClient calls the classification service over HTTP.
type InferenceClient struct {
	client *resty.Client
}

// NewInferenceClient returns a client for the service at baseURL.
func NewInferenceClient(baseURL string, timeout time.Duration) *InferenceClient {
	return &InferenceClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout),
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Classify posts the photo to /predict/ as multipart field "file".
func (c *InferenceClient) Classify(ctx context.Context, filename string, r io.Reader) (*Prediction, error) {
	var (
		out     Prediction
		failure errorBody
	)

	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, r).
		SetResult(&out).
		SetError(&failure).
		Post("/predict/")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		if failure.Detail != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status(), failure.Detail)
		}
		return nil, fmt.Errorf("%s", resp.Status())
	}
	return &out, nil
}
