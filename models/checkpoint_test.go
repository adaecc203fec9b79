package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckpointRoundTrip(t *testing.T) {
	p := NewParam("emb.weight", 2, 2)
	p.W = []float32{1, 2, 3, 4}
	optimizer := NewAdam(0.01)
	optimizer.M["emb.weight"] = []float32{0.1, 0.2, 0.3, 0.4}
	optimizer.V["emb.weight"] = []float32{1, 1, 1, 1}
	optimizer.T = 7
	schedule := NewStepLR(0.9)
	schedule.Count = 3

	path := filepath.Join(t.TempDir(), "model.json")
	assert.NoError(t, SaveCheckpoint(path, NewCheckpoint([]*Param{p}, optimizer, schedule)))

	restored := NewParam("emb.weight", 2, 2)
	restoredOptimizer := NewAdam(0.01)
	restoredSchedule := NewStepLR(0.9)
	checkpoint, err := LoadCheckpoint(path)
	assert.NoError(t, err)
	assert.NoError(t, checkpoint.Apply([]*Param{restored}, restoredOptimizer, restoredSchedule, true))

	assert.Equal(t, p.W, restored.W)
	assert.Equal(t, optimizer.M["emb.weight"], restoredOptimizer.M["emb.weight"])
	assert.Equal(t, 7, restoredOptimizer.T)
	assert.Equal(t, 3, restoredSchedule.Count)
}

// A live parameter named w_raw must load from a checkpoint entry named w,
// and the other way around.
func TestCheckpointAliasReconciliation(t *testing.T) {
	saved := NewParam("out.weight", 1, 3)
	saved.W = []float32{1, 2, 3}
	checkpoint := NewCheckpoint([]*Param{saved}, nil, nil)

	live := NewParam("out.weight_raw", 1, 3)
	assert.NoError(t, checkpoint.Apply([]*Param{live}, nil, nil, true))
	assert.Equal(t, saved.W, live.W)

	savedRaw := NewParam("out.weight_raw", 1, 3)
	savedRaw.W = []float32{4, 5, 6}
	checkpoint = NewCheckpoint([]*Param{savedRaw}, nil, nil)

	live = NewParam("out.weight", 1, 3)
	assert.NoError(t, checkpoint.Apply([]*Param{live}, nil, nil, true))
	assert.Equal(t, savedRaw.W, live.W)
}

func TestCheckpointStrictFailsOnMissingParameter(t *testing.T) {
	checkpoint := NewCheckpoint([]*Param{NewParam("emb.weight", 1, 2)}, nil, nil)

	present := NewParam("emb.weight", 1, 2)
	missing := NewParam("out.weight", 1, 2)
	missing.W = []float32{9, 9}

	err := checkpoint.Apply([]*Param{present, missing}, nil, nil, true)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "out.weight")
	// strict failure must not leave a partial load behind
	assert.Equal(t, []float32{9, 9}, missing.W)

	assert.NoError(t, checkpoint.Apply([]*Param{present, missing}, nil, nil, false))
}

func TestCheckpointSizeMismatch(t *testing.T) {
	checkpoint := NewCheckpoint([]*Param{NewParam("emb.weight", 1, 2)}, nil, nil)
	wrong := NewParam("emb.weight", 1, 3)
	assert.Error(t, checkpoint.Apply([]*Param{wrong}, nil, nil, true))
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nothing.json"))
	assert.Error(t, err)
}
