// Package roboflow calls a Roboflow hosted object-detection model.
package roboflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/menta2k/agro-analyzer/pkg/processing"
	"github.com/menta2k/agro-analyzer/pkg/types"
)

const (
	// DefaultURL is the hosted inference endpoint
	DefaultURL = "https://detect.roboflow.com"
	// DefaultModel is the field-detection model, as "project/version"
	DefaultModel = "agridetect/3"
	// APIKeyEnv is the environment variable the CLI reads the key from
	APIKeyEnv = "ROBOFLOW_API_KEY"
	// DefaultRetries is how often a failed upload is repeated
	DefaultRetries = 2
)

var (
	// ErrNoAPIKey is returned when the client is built without credentials
	ErrNoAPIKey = errors.New("roboflow: missing API key")
	// ErrBadResponse is returned when a successful reply cannot be parsed
	ErrBadResponse = errors.New("roboflow: malformed response")
)

// Config holds client settings
type Config struct {
	BaseURL string
	Model   string // project/version
	APIKey  string
	MaxDim  int // long side of the uploaded image, 0 keeps the original size
	Quality int // JPEG quality of the upload
	Timeout time.Duration

	Retries   int           // 0 uses DefaultRetries, negative disables retrying
	RetryBase time.Duration // first backoff step, grows as a Fibonacci sequence
}

// StatusError is a non-200 reply from the inference API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("roboflow returned status %d: %s", e.Code, e.Body)
}

// temporary reports whether repeating the request may succeed
func (e *StatusError) temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Prediction is one object in a hosted inference response
type Prediction struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

// Response is the hosted inference response body
type Response struct {
	Image struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"image"`
	Predictions []Prediction `json:"predictions"`
}

// Client implements client.Detector against the hosted inference API
type Client struct {
	config     Config
	httpClient *http.Client
	processor  *processing.Processor
}

// NewClient creates a client. The model is loaded remotely, so the client
// is cheap to share across analyses.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Quality <= 0 {
		config.Quality = 90
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	switch {
	case config.Retries == 0:
		config.Retries = DefaultRetries
	case config.Retries < 0:
		config.Retries = 0
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 500 * time.Millisecond
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		processor:  processing.NewProcessor(),
	}, nil
}

// Predict uploads img and returns detections in img's pixel space
func (c *Client) Predict(ctx context.Context, img image.Image, confidence float64) ([]types.Detection, error) {
	bounds := img.Bounds()
	upload := processing.FitLongSide(img, c.config.MaxDim)

	data, err := c.processor.EncodeForUpload(upload, "jpg", 0, c.config.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload: %w", err)
	}

	payload := base64.StdEncoding.EncodeToString(data)
	backoff := retry.WithMaxRetries(uint64(c.config.Retries), retry.NewFibonacci(c.config.RetryBase))

	var resp *Response
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := c.infer(ctx, payload, confidence)
		if err != nil {
			if errors.Is(err, ErrBadResponse) {
				return err
			}
			var se *StatusError
			if errors.As(err, &se) && !se.temporary() {
				return err
			}
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	sentW, sentH := float64(upload.Bounds().Dx()), float64(upload.Bounds().Dy())
	if resp.Image.Width > 0 && resp.Image.Height > 0 {
		sentW, sentH = resp.Image.Width, resp.Image.Height
	}
	sx := float64(bounds.Dx()) / sentW
	sy := float64(bounds.Dy()) / sentH

	dets := make([]types.Detection, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		if p.Confidence < confidence {
			continue
		}
		dets = append(dets, types.Detection{
			Class:      p.Class,
			Confidence: p.Confidence,
			X:          p.X * sx,
			Y:          p.Y * sy,
			Width:      p.Width * sx,
			Height:     p.Height * sy,
		})
	}
	return dets, nil
}

func (c *Client) infer(ctx context.Context, imgB64 string, confidence float64) (*Response, error) {
	q := url.Values{}
	q.Set("api_key", c.config.APIKey)
	// the API takes a percentage
	q.Set("confidence", strconv.Itoa(int(math.Round(confidence*100))))
	endpoint := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.Trim(c.config.Model, "/") + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(imgB64))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &out, nil
}
