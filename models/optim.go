package models

import (
	"math"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Adam is the optimizer driving every training step. Moment buffers are
// keyed by parameter name and allocated lazily, so the same optimizer keeps
// working when layer groups freeze and unfreeze between epochs.
type Adam struct {
	LR       float64
	Beta1    float64
	Beta2    float64
	Eps      float64
	ClipNorm float64

	T int
	M map[string][]float32
	V map[string][]float32
}

// NewAdam creates an optimizer with the usual defaults and the given
// learning rate.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		M:     map[string][]float32{},
		V:     map[string][]float32{},
	}
}

// Step applies one bias-corrected Adam update to every trainable parameter
// and clears all gradients afterwards, frozen ones included. When ClipNorm
// is positive, gradients are first rescaled so their global norm does not
// exceed it.
func (a *Adam) Step(params []*Param) {
	if a.ClipNorm > 0 {
		a.clip(params)
	}

	a.T++
	lrT := a.LR * math.Sqrt(1-math.Pow(a.Beta2, float64(a.T))) / (1 - math.Pow(a.Beta1, float64(a.T)))

	for _, p := range params {
		if !p.Trainable {
			p.ZeroGrad()
			continue
		}
		m, v := a.moments(p)
		for i, g := range p.Grad {
			gf := float64(g)
			if math.IsNaN(gf) || math.IsInf(gf, 0) {
				continue
			}
			m[i] = float32(a.Beta1)*m[i] + float32(1-a.Beta1)*g
			v[i] = float32(a.Beta2)*v[i] + float32(1-a.Beta2)*g*g
			p.W[i] -= float32(lrT * float64(m[i]) / (math.Sqrt(float64(v[i])) + a.Eps))
		}
		p.ZeroGrad()
	}
}

func (a *Adam) moments(p *Param) ([]float32, []float32) {
	m, ok := a.M[p.Name]
	if !ok {
		m = make([]float32, len(p.W))
		a.M[p.Name] = m
	}
	v, ok := a.V[p.Name]
	if !ok {
		v = make([]float32, len(p.W))
		a.V[p.Name] = v
	}
	return m, v
}

func (a *Adam) clip(params []*Param) {
	norm := 0.0
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		for _, g := range p.Grad {
			norm += float64(g) * float64(g)
		}
	}
	norm = math.Sqrt(norm)
	if norm <= a.ClipNorm {
		return
	}
	scale := float32(a.ClipNorm / (norm + 1e-7))
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
}

// StateNames returns the parameter names with optimizer moments, sorted,
// for the checkpoint codec.
func (a *Adam) StateNames() []string {
	names := maps.Keys(a.M)
	slices.Sort(names)
	return names
}

// StepLR multiplies the optimizer's learning rate by Gamma every StepSize
// calls, the torch StepLR schedule with the counter stepped once per epoch.
type StepLR struct {
	StepSize int
	Gamma    float64
	Count    int
}

// NewStepLR creates a schedule that decays every epoch.
func NewStepLR(gamma float64) *StepLR {
	return &StepLR{StepSize: 1, Gamma: gamma}
}

// Step advances the schedule counter and decays the learning rate when the
// counter hits a step boundary.
func (s *StepLR) Step(optimizer *Adam) {
	s.Count++
	if s.StepSize > 0 && s.Count%s.StepSize == 0 {
		optimizer.LR *= s.Gamma
	}
}
