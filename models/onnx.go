package models

import (
	"errors"
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/tagot/batching"
	"github.com/knights-analytics/tagot/util"
	"github.com/knights-analytics/tagot/util/safeconv"
)

// ONNXEncoder is an emission model backed by a pretrained transformer
// exported to ONNX and run with the pure-Go gonnx runtime. The encoder
// itself is frozen; a trainable linear head maps its hidden states to tag
// scores, so the freeze policy and fine-tuning still have something to
// train. Batches must carry subword token ids (see SubwordFeaturizer), one
// per word, so emissions stay word-aligned.
type ONNXEncoder struct {
	session    *gonnx.Model
	inputNames []string
	outputName string
	hidden     int

	head     *Param
	bias     *Param
	numTags  int
	training bool

	lastBatch  *batching.Batch
	lastHidden [][][]float32
}

// NewONNXEncoder loads an ONNX encoder from path and attaches a fresh
// linear head projecting to numTags scores.
func NewONNXEncoder(path string, numTags int, seed int64) (*ONNXEncoder, error) {
	onnxBytes, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	session, err := gonnx.NewModelFromBytes(onnxBytes)
	if err != nil {
		return nil, fmt.Errorf("loading onnx model %s: %w", path, err)
	}

	inputNames := session.InputNames()
	for _, name := range inputNames {
		switch name {
		case "input_ids", "attention_mask", "token_type_ids":
		default:
			return nil, fmt.Errorf("onnx input %s not recognized", name)
		}
	}
	outputNames := session.OutputNames()
	if len(outputNames) == 0 {
		return nil, errors.New("onnx model has no outputs")
	}
	outputName := outputNames[0]
	outputShape := session.OutputShapes()[outputName]
	if len(outputShape) != 3 {
		return nil, fmt.Errorf("onnx output %s must be (batch, sequence, hidden), has %d dimensions", outputName, len(outputShape))
	}
	hidden := int(outputShape[len(outputShape)-1].Size)
	if hidden <= 0 {
		return nil, fmt.Errorf("onnx output %s has dynamic hidden dimension", outputName)
	}

	encoder := &ONNXEncoder{
		session:    session,
		inputNames: inputNames,
		outputName: outputName,
		hidden:     hidden,
		numTags:    numTags,
		training:   true,
	}
	encoder.head, encoder.bias = newHead(hidden, numTags, seed)
	return encoder, nil
}

func newHead(hidden, numTags int, seed int64) (*Param, *Param) {
	rng := newSeededRNG(seed)
	return NewRandomParam("head.weight", hidden, numTags, rng), NewParam("head.bias", 1, numTags)
}

func (m *ONNXEncoder) NumTags() int           { return m.numTags }
func (m *ONNXEncoder) Training() bool         { return m.training }
func (m *ONNXEncoder) SetTraining(train bool) { m.training = train }

func (m *ONNXEncoder) Parameters() []*Param {
	return []*Param{m.head, m.bias}
}

// LayerGroups exposes the frozen encoder as an empty leading group so
// FreezeTo counts it the same way it counts trainable groups.
func (m *ONNXEncoder) LayerGroups() [][]*Param {
	return [][]*Param{{}, {m.head, m.bias}}
}

func (m *ONNXEncoder) ZeroGrad() {
	m.head.ZeroGrad()
	m.bias.ZeroGrad()
}

// Forward runs the frozen encoder on the batch's subword ids and projects
// every position through the head, time-major.
func (m *ONNXEncoder) Forward(batch *batching.Batch) ([][][]float32, error) {
	if batch.Size() == 0 || batch.MaxLen == 0 {
		return nil, errors.New("cannot run forward on an empty batch")
	}
	size := batch.Size()
	steps := batch.MaxLen

	inputs := make(map[string]tensor.Tensor, len(m.inputNames))
	for _, name := range m.inputNames {
		backing := make([]uint32, size*steps)
		counter := 0
		for b := 0; b < size; b++ {
			length := batch.Lengths[b]
			for t := 0; t < steps; t++ {
				switch name {
				case "input_ids":
					backing[counter] = safeconv.IntToUint32(batch.WordIDs[b][t])
				case "attention_mask":
					if t < length {
						backing[counter] = 1
					}
				case "token_type_ids":
					// zero
				}
				counter++
			}
		}
		inputs[name] = tensor.New(
			tensor.Of(tensor.Uint32),
			tensor.WithShape(size, steps),
			tensor.WithBacking(backing),
		)
	}

	outputs, err := m.session.Run(inputs)
	if err != nil {
		return nil, err
	}
	output, ok := outputs[m.outputName]
	if !ok {
		return nil, fmt.Errorf("onnx run produced no output named %s", m.outputName)
	}
	flat, ok := output.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("onnx output %s is %T, expected float32", m.outputName, output.Data())
	}
	if len(flat) != size*steps*m.hidden {
		return nil, fmt.Errorf("onnx output %s holds %d values, expected %d", m.outputName, len(flat), size*steps*m.hidden)
	}

	hidden := make([][][]float32, steps)
	emissions := make([][][]float32, steps)
	for t := 0; t < steps; t++ {
		hidden[t] = make([][]float32, size)
		emissions[t] = make([][]float32, size)
		for b := 0; b < size; b++ {
			offset := (b*steps + t) * m.hidden
			state := flat[offset : offset+m.hidden]
			hidden[t][b] = state
			emissions[t][b] = projectHead(state, m.head, m.bias, m.numTags)
		}
	}
	m.lastBatch = batch
	m.lastHidden = hidden
	return emissions, nil
}

func projectHead(state []float32, head, bias *Param, numTags int) []float32 {
	scores := make([]float32, numTags)
	copy(scores, bias.W)
	for i, h := range state {
		if h == 0 {
			continue
		}
		row := head.Row(i)
		for j := range scores {
			scores[j] += h * row[j]
		}
	}
	return scores
}

// Backward accumulates head gradients; the encoder stays frozen.
func (m *ONNXEncoder) Backward(gradEmissions [][][]float32) error {
	if m.lastBatch == nil {
		return errors.New("backward called before forward")
	}
	if !m.training {
		return errors.New("backward called in evaluation mode")
	}
	return headBackward(gradEmissions, m.lastHidden, m.head, m.bias)
}

func headBackward(gradEmissions, hidden [][][]float32, head, bias *Param) error {
	if len(gradEmissions) != len(hidden) {
		return fmt.Errorf("gradient has %d steps, forward had %d", len(gradEmissions), len(hidden))
	}
	for t := range gradEmissions {
		for b := range gradEmissions[t] {
			grad := gradEmissions[t][b]
			state := hidden[t][b]
			for j, g := range grad {
				bias.Grad[j] += g
			}
			for i, h := range state {
				if h == 0 {
					continue
				}
				row := head.GradRow(i)
				for j, g := range grad {
					row[j] += h * g
				}
			}
		}
	}
	return nil
}
