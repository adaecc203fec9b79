package models

import "github.com/knights-analytics/tagot/batching"

// EmissionModel maps a padded batch to per-token, per-tag emission scores.
// The network behind it is opaque to the training and evaluation loops, they
// only see this contract. Emissions are time-major: emissions[t][b][tag],
// with t up to the batch's MaxLen. Padded positions carry scores but the
// mask keeps them out of the loss and the decoded paths.
type EmissionModel interface {
	// Forward computes emissions for the batch and caches whatever the
	// following Backward needs.
	Forward(batch *batching.Batch) ([][][]float32, error)
	// Backward accumulates parameter gradients from the emission
	// gradients of the matching Forward call. Only valid in training mode.
	Backward(gradEmissions [][][]float32) error
	// Parameters returns every named parameter, in a fixed order.
	Parameters() []*Param
	// LayerGroups returns parameters grouped into the ordered layer groups
	// the freeze policy operates on.
	LayerGroups() [][]*Param
	// ZeroGrad clears all gradient buffers.
	ZeroGrad()
	// SetTraining flips the train/eval mode flag; Training reads it back
	// so callers can restore it around their own runs.
	SetTraining(training bool)
	Training() bool
	// NumTags is the size of the emission axis.
	NumTags() int
}

// FreezeTo marks layer groups [0, n) non-trainable and [n, end) trainable,
// the fastai freeze_to rule. n <= 0 makes everything trainable again.
func FreezeTo(model EmissionModel, n int) {
	groups := model.LayerGroups()
	for i, group := range groups {
		trainable := i >= n
		for _, p := range group {
			p.Trainable = trainable
		}
	}
}

// Unfreeze restores full trainability of every layer group.
func Unfreeze(model EmissionModel) {
	FreezeTo(model, 0)
}
