package tagot

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/tagot/util"
)

// Config carries everything a Learner needs beyond the model itself: batch
// geometry, epochs, the learning-rate schedule, feature flags, and the
// checkpoint layout.
type Config struct {
	BatchSize     int     `json:"batchSize"`
	Epochs        int     `json:"epochs"`
	LR            float64 `json:"lr"`
	LRDecay       float64 `json:"lrDecay"`
	ClipNorm      float64 `json:"clipNorm"`
	UseChars      bool    `json:"useChars"`
	Lowercase     bool    `json:"lowercase"`
	WordDim       int     `json:"wordDim"`
	CharDim       int     `json:"charDim"`
	Device        string  `json:"device"`
	CheckpointDir string  `json:"checkpointDir"`
	ModelName     string  `json:"modelName"`
	FineTuneName  string  `json:"fineTuneName"`
	Seed          int64   `json:"seed"`
}

// DefaultConfig returns the settings training starts from when a field is
// not set explicitly.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:     20,
		Epochs:        10,
		LR:            1e-3,
		LRDecay:       0.9,
		ClipNorm:      5,
		UseChars:      true,
		Lowercase:     true,
		WordDim:       100,
		CharDim:       25,
		Device:        "cpu",
		CheckpointDir: "models",
		ModelName:     "ner",
		FineTuneName:  "ner_ft",
		Seed:          1,
	}
}

// LoadConfig reads a JSON config from path over the defaults.
func LoadConfig(path string) (*Config, error) {
	payload, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	if err := jsoniter.Unmarshal(payload, config); err != nil {
		return nil, fmt.Errorf("unmarshalling config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Validate rejects configurations that cannot train.
func (c *Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be greater than 0, got %d", c.BatchSize))
	}
	if c.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("epochs must be greater than 0, got %d", c.Epochs))
	}
	if c.LR <= 0 {
		errs = append(errs, fmt.Errorf("learning rate must be greater than 0, got %g", c.LR))
	}
	if c.LRDecay <= 0 || c.LRDecay > 1 {
		errs = append(errs, fmt.Errorf("learning rate decay must be in (0, 1], got %g", c.LRDecay))
	}
	if c.ModelName == "" {
		errs = append(errs, errors.New("model name must not be empty"))
	}
	if c.FineTuneName == "" {
		errs = append(errs, errors.New("fine-tune name must not be empty"))
	}
	if c.ModelName == c.FineTuneName {
		errs = append(errs, fmt.Errorf("fine-tune checkpoint name %s must differ from the model name", c.FineTuneName))
	}
	return errors.Join(errs...)
}
