package models

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/phuslu/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/knights-analytics/tagot/util"
)

// rawSuffix is the reparameterization alias: a weight named X in one model
// generation appears as X_raw in another because of a wrapper around the
// matrix. The checkpoint codec consults the alias in both directions.
const rawSuffix = "_raw"

// ParamState is one serialized parameter.
type ParamState struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float32 `json:"data"`
}

// Checkpoint is the complete serialized model state: every parameter by
// name plus the optimizer moments and the schedule counter, so a restored
// model resumes exactly where it stopped.
type Checkpoint struct {
	Params        map[string]ParamState `json:"params"`
	OptimizerM    map[string][]float32  `json:"optimizerM,omitempty"`
	OptimizerV    map[string][]float32  `json:"optimizerV,omitempty"`
	OptimizerT    int                   `json:"optimizerT,omitempty"`
	ScheduleCount int                   `json:"scheduleCount,omitempty"`
}

// NewCheckpoint captures the current state of the given parameters and,
// when present, the optimizer and schedule.
func NewCheckpoint(params []*Param, optimizer *Adam, schedule *StepLR) *Checkpoint {
	checkpoint := &Checkpoint{Params: make(map[string]ParamState, len(params))}
	for _, p := range params {
		data := make([]float32, len(p.W))
		copy(data, p.W)
		checkpoint.Params[p.Name] = ParamState{Rows: p.Rows, Cols: p.Cols, Data: data}
	}
	if optimizer != nil {
		checkpoint.OptimizerM = copyState(optimizer.M)
		checkpoint.OptimizerV = copyState(optimizer.V)
		checkpoint.OptimizerT = optimizer.T
	}
	if schedule != nil {
		checkpoint.ScheduleCount = schedule.Count
	}
	return checkpoint
}

func copyState(state map[string][]float32) map[string][]float32 {
	out := make(map[string][]float32, len(state))
	for name, values := range state {
		copied := make([]float32, len(values))
		copy(copied, values)
		out[name] = copied
	}
	return out
}

// SaveCheckpoint serializes the checkpoint to path. The write goes to a
// temporary sibling first and is moved into place, so a crash never leaves
// a truncated checkpoint behind.
func SaveCheckpoint(path string, checkpoint *Checkpoint) error {
	payload, err := jsoniter.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshalling checkpoint: %w", err)
	}
	tempPath := path + ".tmp"
	writer, err := util.NewFileWriter(tempPath, "application/json")
	if err != nil {
		return err
	}
	if _, err = writer.Write(payload); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("writing checkpoint: %w, close: %w", err, closeErr)
		}
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err = writer.Close(); err != nil {
		return err
	}
	if err = util.MoveFile(context.Background(), tempPath, path); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Saved model")
	return nil
}

// LoadCheckpoint reads a checkpoint from path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	payload, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	checkpoint := &Checkpoint{}
	if err := jsoniter.Unmarshal(payload, checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshalling checkpoint %s: %w", path, err)
	}
	if checkpoint.Params == nil {
		return nil, fmt.Errorf("checkpoint %s carries no parameters", path)
	}
	return checkpoint, nil
}

// Apply loads the checkpoint into the live parameters, reconciling names
// through the X <-> X_raw alias in both directions. Under strict mode every
// live parameter must resolve to a checkpoint entry or nothing is assigned.
func (c *Checkpoint) Apply(params []*Param, optimizer *Adam, schedule *StepLR, strict bool) error {
	resolved := make(map[string]ParamState, len(params))
	var missing []string
	for _, p := range params {
		state, ok := c.resolve(p.Name)
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		if len(state.Data) != len(p.W) {
			return fmt.Errorf("checkpoint parameter %s holds %d values, model expects %d", p.Name, len(state.Data), len(p.W))
		}
		resolved[p.Name] = state
	}
	if strict && len(missing) > 0 {
		slices.Sort(missing)
		available := maps.Keys(c.Params)
		slices.Sort(available)
		return fmt.Errorf("checkpoint has no entry for parameters %v (checkpoint carries %v)", missing, available)
	}

	for _, p := range params {
		state, ok := resolved[p.Name]
		if !ok {
			continue
		}
		copy(p.W, state.Data)
	}
	if optimizer != nil && c.OptimizerM != nil {
		optimizer.M = copyState(c.OptimizerM)
		optimizer.V = copyState(c.OptimizerV)
		optimizer.T = c.OptimizerT
	}
	if schedule != nil {
		schedule.Count = c.ScheduleCount
	}
	return nil
}

// resolve finds the checkpoint entry for a live parameter name, trying the
// exact name first, then the name with the raw suffix attached, then with
// the suffix stripped.
func (c *Checkpoint) resolve(name string) (ParamState, bool) {
	if state, ok := c.Params[name]; ok {
		return state, true
	}
	if state, ok := c.Params[name+rawSuffix]; ok {
		return state, true
	}
	if trimmed := strings.TrimSuffix(name, rawSuffix); trimmed != name {
		if state, ok := c.Params[trimmed]; ok {
			return state, true
		}
	}
	return ParamState{}, false
}
