package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ndmitriev/recollect/internal/infrastructure/resilience"
)

// Client talks to the vision sidecar that hosts the shared text/image encoder,
// the image captioner and the speech transcriber. Text queries and stored
// images must be encoded by the same model so they land in one vector space.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 300 * time.Second},
		executor:   executor,
	}
}

func (c *Client) EncodeText(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{"text": text}

	var response struct {
		Vector []float32 `json:"vector"`
	}
	err := c.execute(ctx, "vision.encode_text", func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/encode/text", request, &response, "encode text")
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded("encode text", err)
	}
	if len(response.Vector) == 0 {
		return nil, fmt.Errorf("empty text encoding result")
	}
	return response.Vector, nil
}

func (c *Client) EncodeImage(ctx context.Context, image io.Reader) ([]float32, error) {
	var response struct {
		Vector []float32 `json:"vector"`
	}
	// Binary uploads are not retried: the reader is consumed on first use.
	err := c.postBinary(ctx, "/v1/encode/image", image, &response, "encode image")
	if err != nil {
		return nil, wrapTemporaryIfNeeded("encode image", err)
	}
	if len(response.Vector) == 0 {
		return nil, fmt.Errorf("empty image encoding result")
	}
	return response.Vector, nil
}

func (c *Client) Caption(ctx context.Context, image io.Reader) (string, error) {
	var response struct {
		Caption string `json:"caption"`
	}
	if err := c.postBinary(ctx, "/v1/caption", image, &response, "caption"); err != nil {
		return "", wrapTemporaryIfNeeded("caption", err)
	}
	return strings.TrimSpace(response.Caption), nil
}

func (c *Client) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	var response struct {
		Text string `json:"text"`
	}
	if err := c.postBinary(ctx, "/v1/transcribe", audio, &response, "transcribe"); err != nil {
		return "", wrapTemporaryIfNeeded("transcribe", err)
	}
	return strings.TrimSpace(response.Text), nil
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	if c.executor == nil {
		return call(ctx)
	}
	return c.executor.Execute(ctx, operation, call, classifyVisionError)
}
