// Package tagot trains, evaluates, and serves neural sequence-labeling
// models for named entity recognition. A Learner couples an emission model
// with a linear-chain CRF: training minimises the negative log-likelihood
// of gold tag sequences, evaluation reports token accuracy and span-level
// precision/recall/F1, and inference decodes the best tag sequence for a
// single sentence.
package tagot

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"github.com/knights-analytics/tagot/batching"
	"github.com/knights-analytics/tagot/crf"
	"github.com/knights-analytics/tagot/datasets"
	"github.com/knights-analytics/tagot/models"
	"github.com/knights-analytics/tagot/util"
	"github.com/knights-analytics/tagot/util/safeconv"
)

// checkpointExtension is the fixed extension of every checkpoint file.
const checkpointExtension = ".json"

type timings struct {
	NumCalls uint64
	TotalNS  uint64
}

func (t *timings) observe(start time.Time) {
	atomic.AddUint64(&t.NumCalls, 1)
	atomic.AddUint64(&t.TotalNS, safeconv.DurationToU64(time.Since(start)))
}

// Learner drives the full model lifecycle. It owns the emission model, the
// CRF layer, the optimizer and its schedule, and the tag vocabulary. All
// mutation happens on the training path; evaluation and inference only
// read parameters and restore the train/eval mode flag around their runs.
// A Learner is not safe for concurrent use.
type Learner struct {
	config    *Config
	model     models.EmissionModel
	crf       *crf.CRF
	optimizer *models.Adam
	schedule  *models.StepLR
	device    models.Device
	featurize datasets.Featurizer
	tagSet    map[string]int
	tagNames  map[int]string
	progress  Progress

	featurizeTimings *timings
	forwardTimings   *timings
	decodeTimings    *timings

	statistics TrainingStatistics
}

// TrainingStatistics records per-epoch aggregates, written as JSON next to
// the checkpoints after every Fit or FineTune.
type TrainingStatistics struct {
	EpochTrainLosses     []float64 `json:"epochTrainLosses"`
	EpochTrainAccuracies []float64 `json:"epochTrainAccuracies"`
	EpochEvalLosses      []float64 `json:"epochEvalLosses"`
	EpochEvalF1          []float64 `json:"epochEvalF1"`
}

// LearnerOption configures a Learner at construction.
type LearnerOption func(*Learner) error

// WithEpochs overrides the configured epoch count.
func WithEpochs(epochs int) LearnerOption {
	return func(l *Learner) error {
		if epochs <= 0 {
			return fmt.Errorf("epochs must be greater than 0, got %d", epochs)
		}
		l.config.Epochs = epochs
		return nil
	}
}

// WithBatchSize overrides the configured batch size.
func WithBatchSize(batchSize int) LearnerOption {
	return func(l *Learner) error {
		if batchSize <= 0 {
			return fmt.Errorf("batch size must be greater than 0, got %d", batchSize)
		}
		l.config.BatchSize = batchSize
		return nil
	}
}

// WithLRDecay overrides the per-epoch learning-rate decay factor.
func WithLRDecay(decay float64) LearnerOption {
	return func(l *Learner) error {
		if decay <= 0 || decay > 1 {
			return fmt.Errorf("learning rate decay must be in (0, 1], got %g", decay)
		}
		l.config.LRDecay = decay
		l.schedule.Gamma = decay
		return nil
	}
}

// WithFreezeLayers freezes the first n layer groups from construction on,
// for training only a model's upper layers from the start.
func WithFreezeLayers(n int) LearnerOption {
	return func(l *Learner) error {
		if n < 0 {
			return fmt.Errorf("cannot freeze %d layer groups", n)
		}
		if groups := len(l.model.LayerGroups()); n > groups {
			return fmt.Errorf("cannot freeze %d of %d layer groups", n, groups)
		}
		l.FreezeTo(n)
		return nil
	}
}

// WithDevice requests a device kind; falls back to CPU with a logged
// notice when the accelerator is unavailable.
func WithDevice(kind string) LearnerOption {
	return func(l *Learner) error {
		l.device = models.ResolveDevice(kind)
		return nil
	}
}

// WithProgress replaces the progress reporter.
func WithProgress(progress Progress) LearnerOption {
	return func(l *Learner) error {
		if progress == nil {
			return errors.New("progress reporter must not be nil")
		}
		l.progress = progress
		return nil
	}
}

// NewLearner wires a Learner around an emission model. The tag set is the
// bidirectional tag vocabulary the model was (or will be) trained with;
// the featurizer encodes raw words for Predict.
func NewLearner(config *Config, model models.EmissionModel, featurize datasets.Featurizer, tagSet map[string]int, opts ...LearnerOption) (*Learner, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("emission model must not be nil")
	}
	if len(tagSet) == 0 {
		return nil, errors.New("tag set must not be empty")
	}
	if model.NumTags() != len(tagSet) {
		return nil, fmt.Errorf("model scores %d tags, tag set has %d", model.NumTags(), len(tagSet))
	}

	optimizer := models.NewAdam(config.LR)
	optimizer.ClipNorm = config.ClipNorm

	tagNames := make(map[int]string, len(tagSet))
	for tag, id := range tagSet {
		tagNames[id] = tag
	}

	learner := &Learner{
		config:           config,
		model:            model,
		crf:              crf.New(len(tagSet)),
		optimizer:        optimizer,
		schedule:         models.NewStepLR(config.LRDecay),
		device:           models.ResolveDevice(config.Device),
		featurize:        featurize,
		tagSet:           tagSet,
		tagNames:         tagNames,
		progress:         NewProgress(),
		featurizeTimings: &timings{},
		forwardTimings:   &timings{},
		decodeTimings:    &timings{},
	}
	for _, opt := range opts {
		if err := opt(learner); err != nil {
			return nil, err
		}
	}
	return learner, nil
}

// Model exposes the emission model, mainly for tests and model surgery.
func (l *Learner) Model() models.EmissionModel {
	return l.model
}

// Statistics returns the per-epoch training statistics so far.
func (l *Learner) Statistics() TrainingStatistics {
	return l.statistics
}

// crfParams exposes the CRF transition parameters to the optimizer and the
// checkpoint codec under stable names. The slices are shared, not copied.
func (l *Learner) crfParams() []*models.Param {
	n := l.crf.NumTags
	return []*models.Param{
		{Name: "crf.transitions", Rows: n, Cols: n, W: l.crf.Transitions, Grad: l.crf.TransGrad, Trainable: true},
		{Name: "crf.start", Rows: 1, Cols: n, W: l.crf.Start, Grad: l.crf.StartGrad, Trainable: true},
		{Name: "crf.end", Rows: 1, Cols: n, W: l.crf.End, Grad: l.crf.EndGrad, Trainable: true},
	}
}

func (l *Learner) parameters() []*models.Param {
	return append(l.model.Parameters(), l.crfParams()...)
}

// FreezeTo applies the freeze policy to the model's layer groups: groups
// [0, n) stop training, [n, end) keep training. The CRF layer always
// trains.
func (l *Learner) FreezeTo(n int) {
	models.FreezeTo(l.model, n)
}

// Unfreeze restores full trainability.
func (l *Learner) Unfreeze() {
	l.FreezeTo(0)
}

// CheckpointPath resolves a checkpoint name to its path,
// <checkpointDir>/<name>.json. An empty name means the configured model
// name.
func (l *Learner) CheckpointPath(name string) string {
	if name == "" {
		name = l.config.ModelName
	}
	return util.PathJoinSafe(l.config.CheckpointDir, name) + checkpointExtension
}

// Save writes the complete parameter state, optimizer moments included, to
// the checkpoint for name.
func (l *Learner) Save(name string) error {
	return models.SaveCheckpoint(l.CheckpointPath(name), models.NewCheckpoint(l.parameters(), l.optimizer, l.schedule))
}

// Load restores a checkpoint into the live model under strict name
// matching, reconciling reparameterized names through the alias table.
func (l *Learner) Load(name string) error {
	path := l.CheckpointPath(name)
	checkpoint, err := models.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := checkpoint.Apply(l.parameters(), l.optimizer, l.schedule, true); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Loaded model")
	return nil
}

// Predict tags a single raw sentence, returning one tag name per word.
func (l *Learner) Predict(words []string) ([]string, error) {
	predictions, err := l.PredictScored(words)
	if err != nil {
		return nil, err
	}
	tags := make([]string, len(predictions))
	for i, p := range predictions {
		tags[i] = p.Tag
	}
	return tags, nil
}

// TokenPrediction is one tagged word with the model's confidence, the
// CRF marginal probability of the predicted tag.
type TokenPrediction struct {
	Word  string  `json:"word"`
	Tag   string  `json:"tag"`
	Score float32 `json:"score"`
}

// PredictScored tags a single raw sentence with per-token confidences.
// Decode is parametrized over the batch axis, so the sentence runs as a
// batch of one, no replication needed.
func (l *Learner) PredictScored(words []string) ([]TokenPrediction, error) {
	if len(words) == 0 {
		return nil, errors.New("cannot predict on an empty sentence")
	}
	if l.featurize == nil {
		return nil, errors.New("learner has no featurizer")
	}

	start := time.Now()
	sample := batching.Sample{
		WordIDs: make([]int, len(words)),
		CharIDs: make([][]int, len(words)),
	}
	for i, word := range words {
		wordID, charIDs, err := l.featurize(word)
		if err != nil {
			return nil, err
		}
		sample.WordIDs[i] = wordID
		sample.CharIDs[i] = charIDs
	}
	l.featurizeTimings.observe(start)

	wasTraining := l.model.Training()
	l.model.SetTraining(false)
	defer l.model.SetTraining(wasTraining)

	batch := batching.NewBatch([]batching.Sample{sample}, l.config.UseChars)
	start = time.Now()
	emissions, err := l.model.Forward(batch)
	if err != nil {
		return nil, err
	}
	l.forwardTimings.observe(start)

	mask := batching.TimeMajorMask(batch.Lengths, batch.MaxLen)
	start = time.Now()
	paths, err := l.crf.Decode(emissions, mask)
	if err != nil {
		return nil, err
	}
	marginals, err := l.crf.Marginals(emissions, mask, 0)
	if err != nil {
		return nil, err
	}
	l.decodeTimings.observe(start)

	predictions := make([]TokenPrediction, len(words))
	for i, tagID := range paths[0] {
		name, ok := l.tagNames[tagID]
		if !ok {
			return nil, fmt.Errorf("decoded tag id %d is not in the tag vocabulary", tagID)
		}
		predictions[i] = TokenPrediction{Word: words[i], Tag: name, Score: marginals[i][tagID]}
	}
	return predictions, nil
}

// GetStats returns runtime statistics for the learner's hot paths.
func (l *Learner) GetStats() []string {
	describe := func(name string, t *timings) string {
		calls := atomic.LoadUint64(&t.NumCalls)
		total := atomic.LoadUint64(&t.TotalNS)
		return fmt.Sprintf("%s: Total time=%s, Execution count=%d, Average time=%s",
			name,
			safeconv.U64ToDuration(total),
			calls,
			safeconv.U64ToDuration(uint64(float64(total)/math.Max(1, float64(calls)))),
		)
	}
	return []string{
		describe("Featurizer", l.featurizeTimings),
		describe("Forward", l.forwardTimings),
		describe("Decode", l.decodeTimings),
	}
}

// LogStats writes GetStats through the structured logger.
func (l *Learner) LogStats() {
	for _, line := range l.GetStats() {
		log.Info().Msg(line)
	}
}
