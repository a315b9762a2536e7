// Package model provides access to the generative model that synthesizes
// replacement cubes, together with the intensity parameters it was trained with.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"scantamper/internal/models"
)

// ErrOutputShape is returned when a generator answers with a cube of a different
// shape than it was given.
var ErrOutputShape = errors.New("model: output shape differs from input shape")

// Generator synthesizes a replacement cube. Infer must return a cube of the same
// shape as its input and must honour the context deadline.
type Generator interface {
	InputShape() models.Shape
	Infer(ctx context.Context, cube *models.Volume) (*models.Volume, error)
}

// Func adapts a plain function to the Generator interface.
type Func struct {
	Shape models.Shape
	Fn    func(ctx context.Context, cube *models.Volume) (*models.Volume, error)
}

func (f Func) InputShape() models.Shape { return f.Shape }

func (f Func) Infer(ctx context.Context, cube *models.Volume) (*models.Volume, error) {
	return f.Fn(ctx, cube)
}

// Serialized allows one inference at a time through the wrapped generator.
type Serialized struct {
	mu sync.Mutex
	g  Generator
}

// NewSerialized wraps g.
func NewSerialized(g Generator) *Serialized {
	return &Serialized{g: g}
}

func (s *Serialized) InputShape() models.Shape { return s.g.InputShape() }

func (s *Serialized) Infer(ctx context.Context, cube *models.Volume) (*models.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.g.Infer(ctx, cube)
}

// Infer runs g on cube and checks the shape contract.
func Infer(ctx context.Context, g Generator, cube *models.Volume) (*models.Volume, error) {
	out, err := g.Infer(ctx, cube)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Shape != cube.Shape || len(out.Data) != cube.Shape.NumVoxels() {
		got := "nil"
		if out != nil {
			got = out.Shape.String()
		}
		return nil, fmt.Errorf("%w: sent %s, got %s", ErrOutputShape, cube.Shape, got)
	}
	return out, nil
}
