package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"scantamper/internal/models"
)

// HTTPGenerator calls a model served over HTTP. The request and the response
// body are both
//
//	{"shape": [z, y, x], "voxels": [...]}
//
// with voxels in (z, y, x) row-major order.
type HTTPGenerator struct {
	Endpoint string
	Shape    models.Shape
	Client   *http.Client
}

type cubePayload struct {
	Shape  [3]int    `json:"shape"`
	Voxels []float64 `json:"voxels"`
}

// NewHTTPGenerator returns a generator posting cubes of the given shape to endpoint.
func NewHTTPGenerator(endpoint string, shape models.Shape) *HTTPGenerator {
	return &HTTPGenerator{Endpoint: endpoint, Shape: shape, Client: http.DefaultClient}
}

func (h *HTTPGenerator) InputShape() models.Shape { return h.Shape }

func (h *HTTPGenerator) Infer(ctx context.Context, cube *models.Volume) (*models.Volume, error) {
	body, err := json.Marshal(cubePayload{Shape: cube.Shape.Dims(), Voxels: cube.Data})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model: inference returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out cubePayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("model: decoding inference response: %w", err)
	}
	shape := models.ShapeOf(out.Shape)
	if shape != cube.Shape || len(out.Voxels) != shape.NumVoxels() {
		return nil, fmt.Errorf("%w: sent %s, got %s with %d voxels", ErrOutputShape, cube.Shape, shape, len(out.Voxels))
	}
	return &models.Volume{Data: out.Voxels, Shape: shape}, nil
}
