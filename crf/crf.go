// Package crf implements a linear-chain Conditional Random Field over
// per-token emission scores. Emissions, targets and masks are laid out
// time-major: emissions[t][b][tag], targets[t][b], mask[t][b]. Masked-out
// positions contribute nothing to likelihoods, gradients or decoded paths.
package crf

import (
	"fmt"
	"math"
)

// CRF holds the transition parameters and their gradient buffers.
// Transitions is row-major (from*NumTags + to). Start and End score a tag
// opening or closing a sequence. Parameters start at zero, emissions carry
// the signal until the transitions are learned.
type CRF struct {
	NumTags     int
	Transitions []float32
	Start       []float32
	End         []float32

	TransGrad []float32
	StartGrad []float32
	EndGrad   []float32
}

// New creates a CRF with numTags tags and zeroed parameters.
func New(numTags int) *CRF {
	return &CRF{
		NumTags:     numTags,
		Transitions: make([]float32, numTags*numTags),
		Start:       make([]float32, numTags),
		End:         make([]float32, numTags),
		TransGrad:   make([]float32, numTags*numTags),
		StartGrad:   make([]float32, numTags),
		EndGrad:     make([]float32, numTags),
	}
}

// ZeroGrad clears the transition gradient buffers. Call before a fresh
// Backward accumulation, mirroring the emission model's gradient reset.
func (c *CRF) ZeroGrad() {
	clearF32(c.TransGrad)
	clearF32(c.StartGrad)
	clearF32(c.EndGrad)
}

func clearF32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

func (c *CRF) trans(from, to int) float64 {
	return float64(c.Transitions[from*c.NumTags+to])
}

// checkShapes validates a time-major emissions tensor against the mask and,
// when present, the targets. Returns steps and batch size.
func (c *CRF) checkShapes(emissions [][][]float32, targets [][]int, mask [][]bool) (int, int, error) {
	steps := len(emissions)
	if steps == 0 {
		return 0, 0, fmt.Errorf("emissions tensor has no time steps")
	}
	if len(mask) != steps {
		return 0, 0, fmt.Errorf("mask has %d steps, emissions have %d", len(mask), steps)
	}
	if targets != nil && len(targets) != steps {
		return 0, 0, fmt.Errorf("targets have %d steps, emissions have %d", len(targets), steps)
	}
	batch := len(emissions[0])
	for t := 0; t < steps; t++ {
		if len(emissions[t]) != batch {
			return 0, 0, fmt.Errorf("emissions step %d has batch size %d, step 0 has %d", t, len(emissions[t]), batch)
		}
		if len(mask[t]) != batch {
			return 0, 0, fmt.Errorf("mask step %d has batch size %d, emissions have %d", t, len(mask[t]), batch)
		}
		if targets != nil && len(targets[t]) != batch {
			return 0, 0, fmt.Errorf("targets step %d has batch size %d, emissions have %d", t, len(targets[t]), batch)
		}
		for b := 0; b < batch; b++ {
			if len(emissions[t][b]) != c.NumTags {
				return 0, 0, fmt.Errorf("emissions at (%d,%d) score %d tags, CRF has %d", t, b, len(emissions[t][b]), c.NumTags)
			}
		}
	}
	return steps, batch, nil
}

// seqLen counts the valid steps for batch column b. Masks are built from
// sequence lengths so the true prefix is contiguous.
func seqLen(mask [][]bool, b int) int {
	l := 0
	for t := 0; t < len(mask); t++ {
		if !mask[t][b] {
			break
		}
		l++
	}
	return l
}

// LogLikelihood returns the log-probability of the gold tag sequences under
// the CRF, summed over the batch. Padded steps are excluded on both the
// numerator and the partition function. The training loss is the negation.
func (c *CRF) LogLikelihood(emissions [][][]float32, targets [][]int, mask [][]bool) (float64, error) {
	_, batch, err := c.checkShapes(emissions, targets, mask)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for b := 0; b < batch; b++ {
		l := seqLen(mask, b)
		if l == 0 {
			continue
		}
		gold, err := c.goldScore(emissions, targets, b, l)
		if err != nil {
			return 0, err
		}
		alpha := c.forward(emissions, b, l)
		total += gold - logPartition(alpha[l-1], c.End)
	}
	return total, nil
}

// goldScore is the unnormalized score of the annotated path for sample b.
func (c *CRF) goldScore(emissions [][][]float32, targets [][]int, b, l int) (float64, error) {
	prev := targets[0][b]
	if prev < 0 || prev >= c.NumTags {
		return 0, fmt.Errorf("target tag %d out of range at step 0", prev)
	}
	score := float64(c.Start[prev]) + float64(emissions[0][b][prev])
	for t := 1; t < l; t++ {
		cur := targets[t][b]
		if cur < 0 || cur >= c.NumTags {
			return 0, fmt.Errorf("target tag %d out of range at step %d", cur, t)
		}
		score += c.trans(prev, cur) + float64(emissions[t][b][cur])
		prev = cur
	}
	return score + float64(c.End[prev]), nil
}

// forward runs the log-space forward recursion for sample b over its first
// l steps and returns the alpha lattice, alpha[t][j] = log sum of all path
// scores ending in tag j at step t.
func (c *CRF) forward(emissions [][][]float32, b, l int) [][]float64 {
	alpha := make([][]float64, l)
	alpha[0] = make([]float64, c.NumTags)
	for j := 0; j < c.NumTags; j++ {
		alpha[0][j] = float64(c.Start[j]) + float64(emissions[0][b][j])
	}
	scores := make([]float64, c.NumTags)
	for t := 1; t < l; t++ {
		alpha[t] = make([]float64, c.NumTags)
		for j := 0; j < c.NumTags; j++ {
			for i := 0; i < c.NumTags; i++ {
				scores[i] = alpha[t-1][i] + c.trans(i, j)
			}
			alpha[t][j] = logSumExp(scores) + float64(emissions[t][b][j])
		}
	}
	return alpha
}

func logPartition(lastAlpha []float64, end []float32) float64 {
	final := make([]float64, len(lastAlpha))
	for j := range lastAlpha {
		final[j] = lastAlpha[j] + float64(end[j])
	}
	return logSumExp(final)
}

// logSumExp with max subtraction, stable for mixed-magnitude scores.
func logSumExp(scores []float64) float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if math.IsInf(maxScore, -1) {
		return maxScore
	}
	sum := 0.0
	for _, s := range scores {
		sum += math.Exp(s - maxScore)
	}
	return maxScore + math.Log(sum)
}
