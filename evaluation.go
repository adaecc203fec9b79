package tagot

import (
	"errors"
	"io"
	"time"

	"github.com/phuslu/log"

	"github.com/knights-analytics/tagot/batching"
	"github.com/knights-analytics/tagot/chunks"
	"github.com/knights-analytics/tagot/datasets"
)

// Metrics aggregates one evaluation run. Accuracy is token-level over all
// valid positions; precision, recall, and F1 are span-level over entity
// chunks. When no predicted chunk is correct all three are 0 by policy,
// matching the original system's reported numbers.
type Metrics struct {
	Loss      float64 `json:"loss"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Evaluate runs the model over the dataset in inference mode. Gold and
// predicted sequences are truncated to their true lengths before
// comparison, so padded positions never inflate the numbers. The model's
// train/eval mode flag is restored afterwards.
func (l *Learner) Evaluate(dataset *datasets.Dataset) (Metrics, error) {
	if dataset == nil || dataset.Len() == 0 {
		return Metrics{}, errors.New("evaluation dataset is empty")
	}

	wasTraining := l.model.Training()
	l.model.SetTraining(false)
	defer l.model.SetTraining(wasTraining)

	iterator := batching.NewIterator(dataset.Samples(), l.config.BatchSize, l.config.UseChars)

	totalLoss := 0.0
	batches := 0
	correct := 0
	total := 0
	correctPreds := 0
	totalPreds := 0
	totalCorrect := 0

	for {
		batch, err := iterator.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metrics{}, err
		}
		if batch.Size() <= 1 {
			log.Info().Msg("Skipping batch of size=1")
			continue
		}

		start := time.Now()
		emissions, err := l.model.Forward(batch)
		if err != nil {
			return Metrics{}, err
		}
		l.forwardTimings.observe(start)

		mask := batching.TimeMajorMask(batch.Lengths, batch.MaxLen)
		targets := timeMajorTargets(batch.Labels, batch.MaxLen)

		logLikelihood, err := l.crf.LogLikelihood(emissions, targets, mask)
		if err != nil {
			return Metrics{}, err
		}
		totalLoss += -logLikelihood
		batches++

		start = time.Now()
		predictions, err := l.crf.Decode(emissions, mask)
		if err != nil {
			return Metrics{}, err
		}
		l.decodeTimings.observe(start)

		gold := batching.Truncate(batch.Labels, batch.Lengths)
		batchCorrect, batchTotal := countMatches(predictions, gold)
		correct += batchCorrect
		total += batchTotal

		for i := range gold {
			goldChunks := chunks.ToSet(chunks.Extract(gold[i], l.tagSet))
			predChunks := chunks.ToSet(chunks.Extract(predictions[i], l.tagSet))
			correctPreds += chunks.Intersection(goldChunks, predChunks)
			totalPreds += len(predChunks)
			totalCorrect += len(goldChunks)
		}
	}

	metrics := Metrics{Accuracy: safeRatio(correct, total)}
	if batches > 0 {
		metrics.Loss = totalLoss / float64(batches)
	}
	if correctPreds > 0 {
		metrics.Precision = float64(correctPreds) / float64(totalPreds)
		metrics.Recall = float64(correctPreds) / float64(totalCorrect)
		metrics.F1 = 2 * metrics.Precision * metrics.Recall / (metrics.Precision + metrics.Recall)
	}

	log.Info().
		Float64("loss", metrics.Loss).
		Float64("accuracy", 100*metrics.Accuracy).
		Float64("f1", 100*metrics.F1).
		Msg("Validation")
	return metrics, nil
}
