// Package models holds the trainable side of tagot: parameter tensors, the
// emission-model contract, a baseline embedding tagger, pretrained ONNX
// encoder backends, the Adam optimizer with its learning-rate schedule, and
// the checkpoint codec.
package models

import (
	"fmt"
	"math"
	"math/rand"
)

// Param is one named, flat parameter matrix with its gradient buffer.
// W is row-major (Rows, Cols). Frozen parameters keep accumulating zero
// gradients, the optimizer skips them.
type Param struct {
	Name      string
	Rows      int
	Cols      int
	W         []float32
	Grad      []float32
	Trainable bool
}

// NewParam allocates a zeroed parameter.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:      name,
		Rows:      rows,
		Cols:      cols,
		W:         make([]float32, rows*cols),
		Grad:      make([]float32, rows*cols),
		Trainable: true,
	}
}

// NewRandomParam allocates a parameter with scaled uniform initialisation,
// the usual 1/sqrt(cols) fan-in scaling.
func NewRandomParam(name string, rows, cols int, rng *rand.Rand) *Param {
	p := NewParam(name, rows, cols)
	scale := float32(1.0 / math.Sqrt(float64(cols)))
	for i := range p.W {
		p.W[i] = (rng.Float32()*2 - 1) * scale
	}
	return p
}

func newSeededRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Row returns the i-th row of the matrix as a subslice.
func (p *Param) Row(i int) []float32 {
	return p.W[i*p.Cols : (i+1)*p.Cols]
}

// GradRow returns the i-th gradient row as a subslice.
func (p *Param) GradRow(i int) []float32 {
	return p.Grad[i*p.Cols : (i+1)*p.Cols]
}

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// SetData replaces the parameter values. The source length must match.
func (p *Param) SetData(data []float32) error {
	if len(data) != len(p.W) {
		return fmt.Errorf("parameter %s holds %d values, got %d", p.Name, len(p.W), len(data))
	}
	copy(p.W, data)
	return nil
}
