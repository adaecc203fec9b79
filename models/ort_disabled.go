//go:build !(ORT || ALL)

package models

import (
	"errors"

	"github.com/knights-analytics/tagot/batching"
)

// ORTEncoder is only available in builds with the ORT or ALL tag.
type ORTEncoder struct{}

// ORTConfig carries the runtime settings for an ORTEncoder.
type ORTConfig struct {
	ModelPath   string
	LibraryPath string
	NumTags     int
	Seed        int64
	Device      Device
}

var errORTDisabled = errors.New("the onnxruntime backend requires building with the ORT or ALL tag")

func NewORTEncoder(ORTConfig) (*ORTEncoder, error) { return nil, errORTDisabled }

func (m *ORTEncoder) Destroy() error { return errORTDisabled }
func (m *ORTEncoder) NumTags() int   { return 0 }
func (m *ORTEncoder) Training() bool { return false }
func (m *ORTEncoder) SetTraining(bool) {
}
func (m *ORTEncoder) Parameters() []*Param     { return nil }
func (m *ORTEncoder) LayerGroups() [][]*Param  { return nil }
func (m *ORTEncoder) ZeroGrad()                {}
func (m *ORTEncoder) Forward(*batching.Batch) ([][][]float32, error) {
	return nil, errORTDisabled
}
func (m *ORTEncoder) Backward([][][]float32) error { return errORTDisabled }
