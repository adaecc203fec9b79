package crf

import (
	"fmt"
	"math"
)

func errOutOfBatch(b, batch int) error {
	return fmt.Errorf("batch index %d out of range for batch size %d", b, batch)
}

// Decode returns the highest-scoring tag sequence for every sample in the
// batch, each truncated to the sample's true length. The search runs per
// batch column, so any batch size from one upwards decodes identically.
func (c *CRF) Decode(emissions [][][]float32, mask [][]bool) ([][]int, error) {
	_, batch, err := c.checkShapes(emissions, nil, mask)
	if err != nil {
		return nil, err
	}
	paths := make([][]int, batch)
	for b := 0; b < batch; b++ {
		l := seqLen(mask, b)
		if l == 0 {
			paths[b] = []int{}
			continue
		}
		paths[b] = c.viterbi(emissions, b, l)
	}
	return paths, nil
}

// viterbi runs the max-sum recursion for one sample with backtracking.
// delta[t][j] is the best score of any path ending in tag j at step t,
// psi[t][j] the predecessor tag achieving it.
func (c *CRF) viterbi(emissions [][][]float32, b, l int) []int {
	delta := make([][]float64, l)
	psi := make([][]int, l)

	delta[0] = make([]float64, c.NumTags)
	psi[0] = make([]int, c.NumTags)
	for j := 0; j < c.NumTags; j++ {
		delta[0][j] = float64(c.Start[j]) + float64(emissions[0][b][j])
	}

	for t := 1; t < l; t++ {
		delta[t] = make([]float64, c.NumTags)
		psi[t] = make([]int, c.NumTags)
		for j := 0; j < c.NumTags; j++ {
			bestScore := math.Inf(-1)
			bestPrev := 0
			for i := 0; i < c.NumTags; i++ {
				score := delta[t-1][i] + c.trans(i, j)
				if score > bestScore {
					bestScore = score
					bestPrev = i
				}
			}
			delta[t][j] = bestScore + float64(emissions[t][b][j])
			psi[t][j] = bestPrev
		}
	}

	bestScore := math.Inf(-1)
	bestTag := 0
	for j := 0; j < c.NumTags; j++ {
		score := delta[l-1][j] + float64(c.End[j])
		if score > bestScore {
			bestScore = score
			bestTag = j
		}
	}

	path := make([]int, l)
	path[l-1] = bestTag
	for t := l - 2; t >= 0; t-- {
		path[t] = psi[t+1][path[t+1]]
	}
	return path
}
