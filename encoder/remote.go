package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tsawler/go-tipadapter/tensor"
)

// RemoteBackbone calls a CLIP embedding server over HTTP. The server owns
// the pretrained weights and places them on the requested device.
//
//	POST {url}/v1/encode/image  {"model","device","shape","pixels"}
//	POST {url}/v1/encode/text   {"model","device","texts"}
//
// Both answer {"embeddings": [[...], ...]}.
type RemoteBackbone struct {
	name   string
	device string
	url    string
	dim    int
	client *http.Client
}

type imageRequest struct {
	Model  string    `json:"model"`
	Device string    `json:"device"`
	Shape  []int     `json:"shape"`
	Pixels []float32 `json:"pixels"`
}

type textRequest struct {
	Model  string   `json:"model"`
	Device string   `json:"device"`
	Texts  []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func NewRemoteBackbone(opts Options) (*RemoteBackbone, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RemoteBackbone{
		name:   opts.Name,
		device: opts.Device,
		url:    strings.TrimRight(opts.URL, "/"),
		dim:    opts.Dim,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (r *RemoteBackbone) Name() string { return r.name }

func (r *RemoteBackbone) Dim() int { return r.dim }

func (r *RemoteBackbone) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *RemoteBackbone) EncodeImages(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error) {
	req := imageRequest{Model: r.name, Device: r.device, Shape: images.Shape, Pixels: images.Data}
	return r.post(ctx, "/v1/encode/image", req, images.Shape[0])
}

func (r *RemoteBackbone) EncodeTexts(ctx context.Context, texts []string) (*tensor.Tensor, error) {
	req := textRequest{Model: r.name, Device: r.device, Texts: texts}
	return r.post(ctx, "/v1/encode/text", req, len(texts))
}

func (r *RemoteBackbone) post(ctx context.Context, path string, body any, want int) (*tensor.Tensor, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("embedding server error: %s", out.Error)
	}
	if len(out.Embeddings) != want {
		return nil, fmt.Errorf("embedding server returned %d rows, expected %d", len(out.Embeddings), want)
	}
	for i, row := range out.Embeddings {
		if len(row) != r.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(row), r.dim)
		}
	}
	return tensor.FromRows(out.Embeddings)
}
