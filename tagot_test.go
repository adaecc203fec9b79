package tagot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knights-analytics/tagot/batching"
	"github.com/knights-analytics/tagot/datasets"
	"github.com/knights-analytics/tagot/models"
)

var testSentences = []datasets.Sentence{
	{Words: []string{"Paris", "is", "nice"}, Tags: []string{"B-LOC", "O", "O"}},
	{Words: []string{"John", "works"}, Tags: []string{"B-PER", "O"}},
}

// testVocabulary builds the shared fixture vocabulary: tags O=0, B-LOC=1,
// B-PER=2 (sorted assignment) and the fixture words.
func testVocabulary() *datasets.Vocab {
	return datasets.BuildVocab(testSentences, true)
}

// stubModel emits a fixed score row per word id. It lets evaluation tests
// pin the decoded path exactly: with zero CRF transitions the decode is the
// per-token argmax of these rows.
type stubModel struct {
	emit     map[int][]float32
	numTags  int
	training bool
	param    *models.Param
}

func newStubModel(numTags int) *stubModel {
	return &stubModel{
		emit:     map[int][]float32{},
		numTags:  numTags,
		training: true,
		param:    models.NewParam("stub.weight", 1, numTags),
	}
}

// tagScores returns a score row strongly preferring the given tag.
func tagScores(tag, numTags int) []float32 {
	scores := make([]float32, numTags)
	scores[tag] = 10
	return scores
}

func (m *stubModel) Forward(batch *batching.Batch) ([][][]float32, error) {
	emissions := make([][][]float32, batch.MaxLen)
	for t := 0; t < batch.MaxLen; t++ {
		emissions[t] = make([][]float32, batch.Size())
		for b := 0; b < batch.Size(); b++ {
			scores, ok := m.emit[batch.WordIDs[b][t]]
			if !ok {
				scores = tagScores(0, m.numTags)
			}
			row := make([]float32, m.numTags)
			copy(row, scores)
			emissions[t][b] = row
		}
	}
	return emissions, nil
}

func (m *stubModel) Backward([][][]float32) error { return nil }
func (m *stubModel) Parameters() []*models.Param  { return []*models.Param{m.param} }
func (m *stubModel) LayerGroups() [][]*models.Param {
	return [][]*models.Param{{m.param}}
}
func (m *stubModel) ZeroGrad()              { m.param.ZeroGrad() }
func (m *stubModel) SetTraining(train bool) { m.training = train }
func (m *stubModel) Training() bool         { return m.training }
func (m *stubModel) NumTags() int           { return m.numTags }

// goldStub emits each word's gold tag from the fixture sentences.
func goldStub(vocab *datasets.Vocab) *stubModel {
	stub := newStubModel(len(vocab.Tags))
	for _, sentence := range testSentences {
		for i, word := range sentence.Words {
			id := vocab.Words[datasets.NormalizeWord(word, true)]
			stub.emit[id] = tagScores(vocab.Tags[sentence.Tags[i]], stub.numTags)
		}
	}
	return stub
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	config := DefaultConfig()
	config.CheckpointDir = t.TempDir()
	config.UseChars = false
	config.BatchSize = 2
	return config
}

func testLearner(t *testing.T, config *Config, model models.EmissionModel, vocab *datasets.Vocab, opts ...LearnerOption) *Learner {
	t.Helper()
	featurize := vocab.Featurizer(datasets.FeaturizerConfig{Lowercase: true, AllowUnk: true})
	learner, err := NewLearner(config, model, featurize, vocab.Tags, opts...)
	assert.NoError(t, err)
	return learner
}

func TestNewLearnerValidation(t *testing.T) {
	vocab := testVocabulary()
	config := testConfig(t)

	_, err := NewLearner(config, nil, nil, vocab.Tags)
	assert.Error(t, err)

	_, err = NewLearner(config, newStubModel(2), nil, vocab.Tags)
	assert.Error(t, err, "tag count mismatch must fail")

	_, err = NewLearner(config, newStubModel(3), nil, vocab.Tags, WithEpochs(-1))
	assert.Error(t, err)

	_, err = NewLearner(config, newStubModel(3), nil, vocab.Tags, WithBatchSize(0))
	assert.Error(t, err)

	_, err = NewLearner(config, newStubModel(3), nil, vocab.Tags, WithLRDecay(1.5))
	assert.Error(t, err)

	_, err = NewLearner(config, newStubModel(3), nil, vocab.Tags, WithFreezeLayers(2))
	assert.Error(t, err, "the stub has a single layer group")

	stub := newStubModel(3)
	_, err = NewLearner(config, stub, nil, vocab.Tags, WithFreezeLayers(1))
	assert.NoError(t, err)
	assert.False(t, stub.param.Trainable)
}

func TestCheckpointPathRule(t *testing.T) {
	vocab := testVocabulary()
	config := testConfig(t)
	learner := testLearner(t, config, newStubModel(3), vocab)

	path := learner.CheckpointPath("")
	assert.True(t, strings.HasPrefix(path, config.CheckpointDir))
	assert.True(t, strings.HasSuffix(path, config.ModelName+".json"))
	assert.True(t, strings.HasSuffix(learner.CheckpointPath("other"), "other.json"))
}

func TestPredictScoredWithStub(t *testing.T) {
	vocab := testVocabulary()
	learner := testLearner(t, testConfig(t), goldStub(vocab), vocab)

	predictions, err := learner.PredictScored([]string{"John", "works"})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(predictions))
	assert.Equal(t, "B-PER", predictions[0].Tag)
	assert.Equal(t, "O", predictions[1].Tag)
	for _, p := range predictions {
		assert.GreaterOrEqual(t, p.Score, float32(0))
		assert.LessOrEqual(t, p.Score, float32(1))
	}

	tags, err := learner.Predict([]string{"Paris", "is", "nice"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"B-LOC", "O", "O"}, tags)
}

func TestPredictRestoresTrainingMode(t *testing.T) {
	vocab := testVocabulary()
	stub := goldStub(vocab)
	learner := testLearner(t, testConfig(t), stub, vocab)

	stub.SetTraining(true)
	_, err := learner.Predict([]string{"Paris"})
	assert.NoError(t, err)
	assert.True(t, stub.Training(), "predict must restore the mode flag")

	stub.SetTraining(false)
	_, err = learner.Predict([]string{"Paris"})
	assert.NoError(t, err)
	assert.False(t, stub.Training())
}

func TestPredictEmptySentence(t *testing.T) {
	vocab := testVocabulary()
	learner := testLearner(t, testConfig(t), goldStub(vocab), vocab)
	_, err := learner.Predict(nil)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	vocab := testVocabulary()
	config := testConfig(t)
	stub := goldStub(vocab)
	learner := testLearner(t, config, stub, vocab)

	stub.param.W[1] = 0.5
	learner.crf.Transitions[2] = 1.25
	assert.NoError(t, learner.Save(""))

	restoredStub := goldStub(vocab)
	restored := testLearner(t, config, restoredStub, vocab)
	assert.NoError(t, restored.Load(""))
	assert.Equal(t, float32(0.5), restoredStub.param.W[1])
	assert.Equal(t, float32(1.25), restored.crf.Transitions[2])
}

func TestGetStats(t *testing.T) {
	vocab := testVocabulary()
	learner := testLearner(t, testConfig(t), goldStub(vocab), vocab)
	_, err := learner.Predict([]string{"Paris"})
	assert.NoError(t, err)

	stats := learner.GetStats()
	assert.Equal(t, 3, len(stats))
	assert.Contains(t, stats[1], "Forward")
	assert.Contains(t, stats[1], "Execution count=1")
}
