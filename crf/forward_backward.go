package crf

import "math"

// Backward computes analytic gradients of the negative log-likelihood.
// It returns d(-LL)/d(emissions) with the same time-major shape as the
// input (zero at padded positions) and accumulates transition, start and
// end gradients into the CRF's gradient buffers. Gradients follow the
// classic expectation difference: model marginals minus empirical counts.
func (c *CRF) Backward(emissions [][][]float32, targets [][]int, mask [][]bool) ([][][]float32, error) {
	steps, batch, err := c.checkShapes(emissions, targets, mask)
	if err != nil {
		return nil, err
	}

	grad := make([][][]float32, steps)
	for t := 0; t < steps; t++ {
		grad[t] = make([][]float32, batch)
		for b := 0; b < batch; b++ {
			grad[t][b] = make([]float32, c.NumTags)
		}
	}

	for b := 0; b < batch; b++ {
		l := seqLen(mask, b)
		if l == 0 {
			continue
		}
		if _, err := c.goldScore(emissions, targets, b, l); err != nil {
			return nil, err
		}

		alpha := c.forward(emissions, b, l)
		beta := c.backward(emissions, b, l)
		logZ := logPartition(alpha[l-1], c.End)

		// Emission gradients: marginal - gold indicator.
		for t := 0; t < l; t++ {
			goldTag := targets[t][b]
			for j := 0; j < c.NumTags; j++ {
				marginal := math.Exp(alpha[t][j] + beta[t][j] - logZ)
				g := marginal
				if j == goldTag {
					g -= 1.0
				}
				grad[t][b][j] = float32(g)
			}
		}

		// Start/end gradients from the boundary marginals.
		firstGold := targets[0][b]
		lastGold := targets[l-1][b]
		for j := 0; j < c.NumTags; j++ {
			startMarginal := math.Exp(alpha[0][j] + beta[0][j] - logZ)
			endMarginal := math.Exp(alpha[l-1][j] + beta[l-1][j] - logZ)
			if j == firstGold {
				startMarginal -= 1.0
			}
			if j == lastGold {
				endMarginal -= 1.0
			}
			c.StartGrad[j] += float32(startMarginal)
			c.EndGrad[j] += float32(endMarginal)
		}

		// Transition gradients from pairwise marginals.
		for t := 0; t < l-1; t++ {
			goldFrom := targets[t][b]
			goldTo := targets[t+1][b]
			for i := 0; i < c.NumTags; i++ {
				for j := 0; j < c.NumTags; j++ {
					pair := math.Exp(alpha[t][i] + c.trans(i, j) + float64(emissions[t+1][b][j]) + beta[t+1][j] - logZ)
					if i == goldFrom && j == goldTo {
						pair -= 1.0
					}
					c.TransGrad[i*c.NumTags+j] += float32(pair)
				}
			}
		}
	}
	return grad, nil
}

// backward runs the log-space backward recursion for sample b over its
// first l steps. beta[t][i] = log sum of all path continuations from tag i
// at step t through the end of the sequence, including the end scores.
func (c *CRF) backward(emissions [][][]float32, b, l int) [][]float64 {
	beta := make([][]float64, l)
	beta[l-1] = make([]float64, c.NumTags)
	for i := 0; i < c.NumTags; i++ {
		beta[l-1][i] = float64(c.End[i])
	}
	scores := make([]float64, c.NumTags)
	for t := l - 2; t >= 0; t-- {
		beta[t] = make([]float64, c.NumTags)
		for i := 0; i < c.NumTags; i++ {
			for j := 0; j < c.NumTags; j++ {
				scores[j] = c.trans(i, j) + float64(emissions[t+1][b][j]) + beta[t+1][j]
			}
			beta[t][i] = logSumExp(scores)
		}
	}
	return beta
}

// Marginals returns per-step tag posteriors P(y_t = j | x) for sample b of
// the batch, one row per valid step. Useful for confidence reporting.
func (c *CRF) Marginals(emissions [][][]float32, mask [][]bool, b int) ([][]float32, error) {
	_, batch, err := c.checkShapes(emissions, nil, mask)
	if err != nil {
		return nil, err
	}
	if b < 0 || b >= batch {
		return nil, errOutOfBatch(b, batch)
	}
	l := seqLen(mask, b)
	if l == 0 {
		return nil, nil
	}
	alpha := c.forward(emissions, b, l)
	beta := c.backward(emissions, b, l)
	logZ := logPartition(alpha[l-1], c.End)

	marginals := make([][]float32, l)
	for t := 0; t < l; t++ {
		row := make([]float32, c.NumTags)
		for j := 0; j < c.NumTags; j++ {
			row[j] = float32(math.Exp(alpha[t][j] + beta[t][j] - logZ))
		}
		marginals[t] = row
	}
	return marginals, nil
}
