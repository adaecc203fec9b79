package tagot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knights-analytics/tagot/datasets"
)

func testDataset(t *testing.T, vocab *datasets.Vocab, sentences []datasets.Sentence) *datasets.Dataset {
	t.Helper()
	featurize := vocab.Featurizer(datasets.FeaturizerConfig{Lowercase: true, AllowUnk: true})
	dataset, err := datasets.NewDataset(sentences, featurize, vocab.Tags, 1)
	assert.NoError(t, err)
	return dataset
}

func TestEvaluatePerfectPredictions(t *testing.T) {
	vocab := testVocabulary()
	learner := testLearner(t, testConfig(t), goldStub(vocab), vocab)
	dataset := testDataset(t, vocab, testSentences)

	metrics, err := learner.Evaluate(dataset)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, metrics.Accuracy)
	assert.Equal(t, 1.0, metrics.Precision)
	assert.Equal(t, 1.0, metrics.Recall)
	assert.Equal(t, 1.0, metrics.F1)
	assert.Greater(t, metrics.Loss, 0.0)
}

// Padded positions carry word id 0 when character features are off. Making
// that id emit an entity tag must not change any metric: both gold and
// decoded sequences stop at the true sentence lengths.
func TestEvaluateIgnoresPaddedPositions(t *testing.T) {
	vocab := testVocabulary()
	stub := goldStub(vocab)
	stub.emit[0] = tagScores(vocab.Tags["B-LOC"], stub.numTags)
	learner := testLearner(t, testConfig(t), stub, vocab)

	metrics, err := learner.Evaluate(testDataset(t, vocab, testSentences))
	assert.NoError(t, err)
	assert.Equal(t, 1.0, metrics.Accuracy)
	assert.Equal(t, 1.0, metrics.F1)
}

func TestEvaluateZeroCorrectChunks(t *testing.T) {
	vocab := testVocabulary()
	// everything decodes to the outside tag: no predicted chunk is correct
	stub := newStubModel(len(vocab.Tags))
	learner := testLearner(t, testConfig(t), stub, vocab)

	metrics, err := learner.Evaluate(testDataset(t, vocab, testSentences))
	assert.NoError(t, err)
	assert.Equal(t, 0.0, metrics.Precision)
	assert.Equal(t, 0.0, metrics.Recall)
	assert.Equal(t, 0.0, metrics.F1)
	// three of five tokens are gold outside tags
	assert.InDelta(t, 3.0/5.0, metrics.Accuracy, 1e-9)
}

func TestEvaluateRestoresTrainingMode(t *testing.T) {
	vocab := testVocabulary()
	stub := goldStub(vocab)
	learner := testLearner(t, testConfig(t), stub, vocab)

	stub.SetTraining(true)
	_, err := learner.Evaluate(testDataset(t, vocab, testSentences))
	assert.NoError(t, err)
	assert.True(t, stub.Training())
}

func TestEvaluateEmptyDataset(t *testing.T) {
	vocab := testVocabulary()
	learner := testLearner(t, testConfig(t), goldStub(vocab), vocab)
	_, err := learner.Evaluate(nil)
	assert.Error(t, err)
}
