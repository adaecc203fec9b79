package tagot

import (
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/phuslu/log"

	"github.com/knights-analytics/tagot/batching"
	"github.com/knights-analytics/tagot/datasets"
	"github.com/knights-analytics/tagot/util"
)

// embeddingLoader is implemented by emission models that can take a
// pretrained embedding table, the baseline tagger among them.
type embeddingLoader interface {
	LoadEmbeddings(vectors [][]float32) error
}

// Fit trains on train for the configured number of epochs, evaluating on
// dev after every epoch, and saves the model checkpoint when done.
func (l *Learner) Fit(train, dev *datasets.Dataset) error {
	log.Info().Msg("Training Model")
	return l.fit(train, dev, l.config.Epochs, l.config.ModelName)
}

// FineTune runs exactly one additional epoch with the freeze policy
// applied: pretrained embeddings are loaded with their gradient disabled
// when provided, every layer group except the last is frozen, and the
// result is saved under the fine-tune checkpoint name, distinct from the
// full-training one.
func (l *Learner) FineTune(train, dev *datasets.Dataset, embeddings [][]float32) error {
	log.Info().Msg("Fine Tuning Model")
	if embeddings != nil {
		loader, ok := l.model.(embeddingLoader)
		if !ok {
			return fmt.Errorf("model %T cannot load pretrained embeddings", l.model)
		}
		if err := loader.LoadEmbeddings(embeddings); err != nil {
			return err
		}
	}
	l.FreezeTo(len(l.model.LayerGroups()) - 1)
	return l.fit(train, dev, 1, l.config.FineTuneName)
}

func (l *Learner) fit(train, dev *datasets.Dataset, epochs int, saveName string) error {
	if train == nil || train.Len() == 0 {
		return errors.New("training dataset is empty")
	}

	iterator := batching.NewIterator(train.Samples(), l.config.BatchSize, l.config.UseChars)
	for epoch := 0; epoch < epochs; epoch++ {
		l.schedule.Step(l.optimizer)

		train.Shuffle()
		iterator.Replace(train.Samples())
		if err := l.trainEpoch(epoch, iterator); err != nil {
			return err
		}

		if dev != nil && dev.Len() > 0 {
			metrics, err := l.Evaluate(dev)
			if err != nil {
				return err
			}
			l.statistics.EpochEvalLosses = append(l.statistics.EpochEvalLosses, metrics.Loss)
			l.statistics.EpochEvalF1 = append(l.statistics.EpochEvalF1, metrics.F1)
		}
	}

	if err := l.Save(saveName); err != nil {
		return err
	}
	return l.writeStatistics()
}

// trainEpoch runs one pass over the iterator: forward, CRF loss, backward,
// optimizer step, and running-accuracy bookkeeping per batch. Batches of
// one sample are skipped; batch statistics degrade on them.
func (l *Learner) trainEpoch(epoch int, iterator *batching.Iterator) error {
	log.Info().Int("epoch", epoch).Msg("Epoch")
	l.model.SetTraining(true)

	target := iterator.Batches()
	epochLoss := 0.0
	correct := 0
	total := 0

	step := 0
	for {
		batch, err := iterator.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		step++
		if batch.Size() <= 1 {
			log.Info().Msg("Skipping batch of size=1")
			continue
		}

		l.model.ZeroGrad()
		l.crf.ZeroGrad()

		start := time.Now()
		emissions, err := l.model.Forward(batch)
		if err != nil {
			return err
		}
		l.forwardTimings.observe(start)

		mask := batching.TimeMajorMask(batch.Lengths, batch.MaxLen)
		targets := timeMajorTargets(batch.Labels, batch.MaxLen)

		logLikelihood, err := l.crf.LogLikelihood(emissions, targets, mask)
		if err != nil {
			return err
		}
		loss := -logLikelihood
		epochLoss += loss

		gradEmissions, err := l.crf.Backward(emissions, targets, mask)
		if err != nil {
			return err
		}
		if err = l.model.Backward(gradEmissions); err != nil {
			return err
		}
		l.optimizer.Step(l.parameters())

		start = time.Now()
		predictions, err := l.crf.Decode(emissions, mask)
		if err != nil {
			return err
		}
		l.decodeTimings.observe(start)

		batchCorrect, batchTotal := countMatches(predictions, batching.Truncate(batch.Labels, batch.Lengths))
		correct += batchCorrect
		total += batchTotal

		l.progress.Update(step, target,
			Metric{Name: "train loss", Value: loss},
			Metric{Name: "accuracy", Value: 100 * safeRatio(batchCorrect, batchTotal)},
		)
	}
	l.progress.Finish()

	accuracy := safeRatio(correct, total)
	l.statistics.EpochTrainLosses = append(l.statistics.EpochTrainLosses, epochLoss)
	l.statistics.EpochTrainAccuracies = append(l.statistics.EpochTrainAccuracies, accuracy)
	log.Info().
		Float64("accuracy", 100*accuracy).
		Int("correct", correct).
		Int("total", total).
		Msg("Train Accuracy")
	return nil
}

// timeMajorTargets transposes batch-major labels into the time-major
// layout the CRF consumes.
func timeMajorTargets(labels [][]int, maxLen int) [][]int {
	targets := make([][]int, maxLen)
	for t := 0; t < maxLen; t++ {
		row := make([]int, len(labels))
		for b := range labels {
			row[b] = labels[b][t]
		}
		targets[t] = row
	}
	return targets
}

// countMatches compares decoded paths against gold sequences already
// truncated to their true lengths. Padded positions never reach here.
func countMatches(predictions, gold [][]int) (int, int) {
	correct := 0
	total := 0
	for i := range gold {
		for j := range gold[i] {
			total++
			if j < len(predictions[i]) && predictions[i][j] == gold[i][j] {
				correct++
			}
		}
	}
	return correct, total
}

func safeRatio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// writeStatistics stores the per-epoch aggregates next to the checkpoints.
func (l *Learner) writeStatistics() error {
	payload, err := jsoniter.Marshal(l.statistics)
	if err != nil {
		return fmt.Errorf("marshalling statistics: %w", err)
	}
	path := util.PathJoinSafe(l.config.CheckpointDir, "statistics.json")
	writer, err := util.NewFileWriter(path, "application/json")
	if err != nil {
		return err
	}
	if _, err = writer.Write(payload); err != nil {
		return errors.Join(err, writer.Close())
	}
	return writer.Close()
}

// FreezeEmbeddings is a convenience for models whose first layer group is
// the embedding table.
func (l *Learner) FreezeEmbeddings() {
	groups := l.model.LayerGroups()
	if len(groups) == 0 {
		return
	}
	for _, p := range groups[0] {
		p.Trainable = false
	}
}
