//go:build ORT || ALL

package models

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/tagot/batching"
	"github.com/knights-analytics/tagot/util"
)

// ORTEncoder runs a pretrained ONNX encoder through onnxruntime, with
// optional CUDA placement. Like ONNXEncoder it keeps the encoder frozen
// and trains only the linear head.
type ORTEncoder struct {
	session    *ort.DynamicAdvancedSession
	options    *ort.SessionOptions
	inputNames []string
	hidden     int

	head     *Param
	bias     *Param
	numTags  int
	training bool

	lastBatch  *batching.Batch
	lastHidden [][][]float32
}

// ORTConfig carries the runtime settings for an ORTEncoder.
type ORTConfig struct {
	ModelPath   string
	LibraryPath string
	NumTags     int
	Seed        int64
	Device      Device
}

// NewORTEncoder loads an ONNX encoder into an onnxruntime session. The
// onnxruntime environment is initialised on first use and shared between
// encoders; only one environment can exist per process.
func NewORTEncoder(config ORTConfig) (*ORTEncoder, error) {
	onnxBytes, err := util.ReadFileBytes(config.ModelPath)
	if err != nil {
		return nil, err
	}

	if !ort.IsInitialized() {
		if config.LibraryPath != "" {
			exists, existsErr := util.FileExists(config.LibraryPath)
			if existsErr != nil {
				return nil, existsErr
			}
			if !exists {
				return nil, fmt.Errorf("cannot find the ort library at: %s", config.LibraryPath)
			}
			ort.SetSharedLibraryPath(config.LibraryPath)
		}
		if err = ort.InitializeEnvironment(); err != nil {
			return nil, err
		}
		if err = ort.DisableTelemetry(); err != nil {
			return nil, err
		}
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if config.Device.Accelerator {
		cudaOptions, cudaErr := ort.NewCUDAProviderOptions()
		if cudaErr != nil {
			return nil, errors.Join(cudaErr, sessionOptions.Destroy())
		}
		if err = sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, errors.Join(err, sessionOptions.Destroy())
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, errors.Join(err, sessionOptions.Destroy())
	}
	if len(outputs) == 0 {
		return nil, errors.Join(errors.New("onnx model has no outputs"), sessionOptions.Destroy())
	}
	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		switch info.Name {
		case "input_ids", "attention_mask", "token_type_ids":
			inputNames[i] = info.Name
		default:
			return nil, errors.Join(fmt.Errorf("onnx input %s not recognized", info.Name), sessionOptions.Destroy())
		}
	}
	outputDims := outputs[0].Dimensions
	if len(outputDims) != 3 || outputDims[2] <= 0 {
		return nil, errors.Join(fmt.Errorf("onnx output %s must be (batch, sequence, hidden) with a fixed hidden dimension", outputs[0].Name), sessionOptions.Destroy())
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		onnxBytes,
		inputNames,
		[]string{outputs[0].Name},
		sessionOptions,
	)
	if err != nil {
		return nil, errors.Join(err, sessionOptions.Destroy())
	}

	encoder := &ORTEncoder{
		session:    session,
		options:    sessionOptions,
		inputNames: inputNames,
		hidden:     int(outputDims[2]),
		numTags:    config.NumTags,
		training:   true,
	}
	encoder.head, encoder.bias = newHead(encoder.hidden, config.NumTags, config.Seed)
	return encoder, nil
}

// Destroy releases the onnxruntime session.
func (m *ORTEncoder) Destroy() error {
	return errors.Join(m.session.Destroy(), m.options.Destroy())
}

func (m *ORTEncoder) NumTags() int           { return m.numTags }
func (m *ORTEncoder) Training() bool         { return m.training }
func (m *ORTEncoder) SetTraining(train bool) { m.training = train }

func (m *ORTEncoder) Parameters() []*Param {
	return []*Param{m.head, m.bias}
}

func (m *ORTEncoder) LayerGroups() [][]*Param {
	return [][]*Param{{}, {m.head, m.bias}}
}

func (m *ORTEncoder) ZeroGrad() {
	m.head.ZeroGrad()
	m.bias.ZeroGrad()
}

func (m *ORTEncoder) Forward(batch *batching.Batch) ([][][]float32, error) {
	if batch.Size() == 0 || batch.MaxLen == 0 {
		return nil, errors.New("cannot run forward on an empty batch")
	}
	size := batch.Size()
	steps := batch.MaxLen

	inputTensors := make([]ort.Value, len(m.inputNames))
	destroyInputs := func() error {
		var err error
		for _, t := range inputTensors {
			if t != nil {
				err = errors.Join(err, t.Destroy())
			}
		}
		return err
	}
	for i, name := range m.inputNames {
		backing := make([]int64, size*steps)
		counter := 0
		for b := 0; b < size; b++ {
			length := batch.Lengths[b]
			for t := 0; t < steps; t++ {
				switch name {
				case "input_ids":
					backing[counter] = int64(batch.WordIDs[b][t])
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
		inputTensor, err := ort.NewTensor(ort.NewShape(int64(size), int64(steps)), backing)
		if err != nil {
			return nil, errors.Join(err, destroyInputs())
		}
		inputTensors[i] = inputTensor
	}

	outputShape := ort.NewShape(int64(size), int64(steps), int64(m.hidden))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, errors.Join(err, destroyInputs())
	}

	if runErr := m.session.Run(inputTensors, []ort.Value{outputTensor}); runErr != nil {
		return nil, errors.Join(runErr, outputTensor.Destroy(), destroyInputs())
	}
	flat := outputTensor.GetData()

	hidden := make([][][]float32, steps)
	emissions := make([][][]float32, steps)
	for t := 0; t < steps; t++ {
		hidden[t] = make([][]float32, size)
		emissions[t] = make([][]float32, size)
		for b := 0; b < size; b++ {
			offset := (b*steps + t) * m.hidden
			state := make([]float32, m.hidden)
			copy(state, flat[offset:offset+m.hidden])
			hidden[t][b] = state
			emissions[t][b] = projectHead(state, m.head, m.bias, m.numTags)
		}
	}
	if err = errors.Join(outputTensor.Destroy(), destroyInputs()); err != nil {
		return nil, err
	}
	m.lastBatch = batch
	m.lastHidden = hidden
	return emissions, nil
}

func (m *ORTEncoder) Backward(gradEmissions [][][]float32) error {
	if m.lastBatch == nil {
		return errors.New("backward called before forward")
	}
	if !m.training {
		return errors.New("backward called in evaluation mode")
	}
	return headBackward(gradEmissions, m.lastHidden, m.head, m.bias)
}
