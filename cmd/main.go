package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/tagot"
	"github.com/knights-analytics/tagot/datasets"
	"github.com/knights-analytics/tagot/models"
	"github.com/knights-analytics/tagot/util"
	"github.com/knights-analytics/tagot/util/checks"
)

var modelDir string
var configPath string
var trainPath string
var devPath string
var embeddingsPath string
var inputPath string
var outputPath string
var batchSize int
var fineTune bool
var downloadModelName string

// loadLearner rebuilds a learner from a model directory: config.json, the
// vocabulary files, and the saved checkpoint.
func loadLearner(dir string) (*tagot.Learner, *datasets.Vocab, *tagot.Config, error) {
	config, err := tagot.LoadConfig(util.PathJoinSafe(dir, "config.json"))
	if err != nil {
		return nil, nil, nil, err
	}
	config.CheckpointDir = dir

	vocab, err := datasets.LoadVocab(dir)
	if err != nil {
		return nil, nil, nil, err
	}

	learner, err := newLearner(config, vocab)
	if err != nil {
		return nil, nil, nil, err
	}
	if err = learner.Load(""); err != nil {
		return nil, nil, nil, err
	}
	return learner, vocab, config, nil
}

func newLearner(config *tagot.Config, vocab *datasets.Vocab) (*tagot.Learner, error) {
	// a model directory holding an onnx export runs in encoder mode: the
	// pretrained encoder produces the emissions and its tokenizer replaces
	// the word/char vocabulary featurizer
	onnxFile := util.PathJoinSafe(config.CheckpointDir, "model.onnx")
	if exists, err := util.FileExists(onnxFile); err != nil {
		return nil, err
	} else if exists {
		return newEncoderLearner(config, vocab, onnxFile)
	}

	tagger, err := models.NewTagger(models.TaggerConfig{
		WordVocabSize: len(vocab.Words),
		CharVocabSize: len(vocab.Chars) + 1,
		WordDim:       config.WordDim,
		CharDim:       config.CharDim,
		NumTags:       len(vocab.Tags),
		UseChars:      config.UseChars,
		Seed:          config.Seed,
	})
	if err != nil {
		return nil, err
	}
	featurize := vocab.Featurizer(datasets.FeaturizerConfig{
		Lowercase: config.Lowercase,
		UseChars:  config.UseChars,
		AllowUnk:  true,
	})
	return tagot.NewLearner(config, tagger, featurize, vocab.Tags)
}

func newEncoderLearner(config *tagot.Config, vocab *datasets.Vocab, onnxFile string) (*tagot.Learner, error) {
	device := models.ResolveDevice(config.Device)

	var encoder models.EmissionModel
	var err error
	if device.Accelerator {
		encoder, err = models.NewORTEncoder(models.ORTConfig{
			ModelPath: onnxFile,
			NumTags:   len(vocab.Tags),
			Seed:      config.Seed,
			Device:    device,
		})
	} else {
		encoder, err = models.NewONNXEncoder(onnxFile, len(vocab.Tags), config.Seed)
	}
	if err != nil {
		return nil, err
	}

	featurizer, err := models.NewEncoderFeaturizer(util.PathJoinSafe(config.CheckpointDir, "tokenizer.json"), device)
	if err != nil {
		return nil, err
	}
	return tagot.NewLearner(config, encoder, featurizer.Featurize, vocab.Tags)
}

var trainCommand = &cli.Command{
	Name:  "train",
	Usage: "Train a sequence tagging model on CoNLL data",
	Description: `Train reads CoNLL-formatted training and validation files, builds the
vocabularies, and trains a model. The model directory receives the
checkpoint, the vocabulary files, and a copy of the configuration. With
--fineTune the existing checkpoint is loaded first and a single frozen
epoch is run on top of it, saved under a separate name.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "train",
			Usage:       "Path to the CoNLL training file",
			Aliases:     []string{"t"},
			Destination: &trainPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "dev",
			Usage:       "Path to the CoNLL validation file",
			Aliases:     []string{"d"},
			Destination: &devPath,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path to a configuration json, defaults apply if omitted",
			Aliases:     []string{"c"},
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model directory to write to",
			Aliases:     []string{"m"},
			Destination: &modelDir,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "embeddings",
			Usage:       "Path to pretrained word vectors in text format",
			Aliases:     []string{"e"},
			Destination: &embeddingsPath,
		},
		&cli.BoolFlag{
			Name:        "fineTune",
			Usage:       "Fine tune the existing checkpoint for one epoch with frozen lower layers",
			Destination: &fineTune,
		},
	},
	Action: func(ctx *cli.Context) error {
		config := tagot.DefaultConfig()
		if configPath != "" {
			var err error
			if config, err = tagot.LoadConfig(configPath); err != nil {
				return err
			}
		}
		config.CheckpointDir = modelDir

		trainSentences, err := datasets.ReadCoNLL(trainPath)
		if err != nil {
			return err
		}

		var vocab *datasets.Vocab
		if fineTune {
			if vocab, err = datasets.LoadVocab(modelDir); err != nil {
				return err
			}
		} else {
			vocab = datasets.BuildVocab(trainSentences, config.Lowercase)
			if err = util.CreateFile(modelDir, true); err != nil {
				return err
			}
			if err = vocab.Save(modelDir); err != nil {
				return err
			}
		}

		learner, err := newLearner(config, vocab)
		if err != nil {
			return err
		}

		featurize := vocab.Featurizer(datasets.FeaturizerConfig{
			Lowercase: config.Lowercase,
			UseChars:  config.UseChars,
			AllowUnk:  true,
		})
		train, err := datasets.NewDataset(trainSentences, featurize, vocab.Tags, config.Seed)
		if err != nil {
			return err
		}
		var dev *datasets.Dataset
		if devPath != "" {
			devSentences, readErr := datasets.ReadCoNLL(devPath)
			if readErr != nil {
				return readErr
			}
			if dev, err = datasets.NewDataset(devSentences, featurize, vocab.Tags, config.Seed); err != nil {
				return err
			}
		}

		var embeddings [][]float32
		if embeddingsPath != "" {
			if embeddings, err = datasets.LoadEmbeddings(embeddingsPath, vocab.Words, config.WordDim); err != nil {
				return err
			}
		}

		if err = writeConfig(config, util.PathJoinSafe(modelDir, "config.json")); err != nil {
			return err
		}

		if fineTune {
			if err = learner.Load(""); err != nil {
				return err
			}
			if err = learner.FineTune(train, dev, embeddings); err != nil {
				return err
			}
		} else {
			if embeddings != nil {
				tagger, ok := learner.Model().(*models.Tagger)
				if !ok {
					return fmt.Errorf("model %T cannot load pretrained embeddings", learner.Model())
				}
				if err = tagger.LoadEmbeddings(embeddings); err != nil {
					return err
				}
			}
			if err = learner.Fit(train, dev); err != nil {
				return err
			}
		}
		learner.LogStats()
		return nil
	},
}

var evaluateCommand = &cli.Command{
	Name:  "evaluate",
	Usage: "Evaluate a trained model on a CoNLL file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model directory",
			Aliases:     []string{"m"},
			Destination: &modelDir,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "data",
			Usage:       "Path to the CoNLL file to evaluate on",
			Aliases:     []string{"d"},
			Destination: &inputPath,
			Required:    true,
		},
	},
	Action: func(ctx *cli.Context) error {
		learner, vocab, config, err := loadLearner(modelDir)
		if err != nil {
			return err
		}
		sentences, err := datasets.ReadCoNLL(inputPath)
		if err != nil {
			return err
		}
		featurize := vocab.Featurizer(datasets.FeaturizerConfig{
			Lowercase: config.Lowercase,
			UseChars:  config.UseChars,
			AllowUnk:  true,
		})
		dataset, err := datasets.NewDataset(sentences, featurize, vocab.Tags, config.Seed)
		if err != nil {
			return err
		}
		metrics, err := learner.Evaluate(dataset)
		if err != nil {
			return err
		}
		payload, err := jsoniter.Marshal(metrics)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(payload))
		return err
	},
}

var predictCommand = &cli.Command{
	Name:      "predict",
	Usage:     "Tag a single sentence given as arguments",
	ArgsUsage: "word [word ...]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model directory",
			Aliases:     []string{"m"},
			Destination: &modelDir,
			Required:    true,
		},
	},
	Action: func(ctx *cli.Context) error {
		words := ctx.Args().Slice()
		if len(words) == 0 {
			return errors.New("no words to tag")
		}
		learner, _, _, err := loadLearner(modelDir)
		if err != nil {
			return err
		}
		predictions, err := learner.PredictScored(words)
		if err != nil {
			return err
		}
		payload, err := jsoniter.Marshal(predictions)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(payload))
		return err
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Tag a stream of sentences in .jsonl format",
	Description: `Run expects input in .jsonl format. Each json line must be of the format
{"input": "a raw sentence"}; the sentence is split on whitespace and
tagged. Repeated sentences are served from an in-memory cache.`,
	ArgsUsage: `
				--input: path to a .jsonl file or a folder with .jsonl files to process. If omitted, the input will be read from stdin.
				--output: path to a folder where to write the output. If omitted, the output will be sent to stdout.
				--model: model directory with the checkpoint, vocabulary, and config.
				`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model directory",
			Aliases:     []string{"m"},
			Destination: &modelDir,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to the input data",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to output",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of inputs to read per batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       20,
		},
	},
	Action: func(ctx *cli.Context) (err error) {
		learner, _, _, err := loadLearner(modelDir)
		if err != nil {
			return err
		}

		inputChannel := make(chan []input, 1000)
		processedChannel := make(chan []byte, 1000)
		errorsChannel := make(chan error, 1000)
		var processedWg, writeWg sync.WaitGroup

		cache := fastcache.New(32 * 1024 * 1024)
		processedWg.Add(1)
		go tagInputs(&processedWg, inputChannel, processedChannel, errorsChannel, learner, cache)

		var writer io.WriteCloser
		if outputPath != "" {
			writer, err = util.NewFileWriter(util.PathJoinSafe(outputPath, "result-0.jsonl"), "application/jsonl")
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, writer.Close())
			}()
		} else {
			writer = os.Stdout
		}
		writeWg.Add(1)
		go writeOutputs(&writeWg, processedChannel, errorsChannel, writer)

		exists, err := util.FileExists(inputPath)
		if err != nil {
			return err
		}
		exists = inputPath != "" && exists

		if exists {
			fileWalker := func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (toContinue bool, err error) {
				if filepath.Ext(info.Name()) == ".jsonl" {
					if err := readInputs(reader, inputChannel); err != nil {
						return false, err
					}
				}
				return true, nil
			}
			if err = util.FileSystem.Walk(ctx.Context, inputPath, fileWalker); err != nil {
				return err
			}
		} else {
			if inputPath != "" {
				return fmt.Errorf("file %s does not exist", inputPath)
			}
			if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				// there is something to process on stdin
				if err = readInputs(os.Stdin, inputChannel); err != nil {
					return err
				}
			}
		}

		close(inputChannel)
		processedWg.Wait()
		close(processedChannel)
		close(errorsChannel)
		writeWg.Wait()
		learner.LogStats()
		return err
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download an onnx encoder model from huggingface",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Huggingface model name, e.g. org/model",
			Aliases:     []string{"m"},
			Destination: &downloadModelName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "destination",
			Usage:       "Folder where to store the downloaded model",
			Aliases:     []string{"d"},
			Destination: &outputPath,
			Required:    true,
		},
	},
	Action: func(ctx *cli.Context) error {
		if strings.Contains(downloadModelName, ":") {
			return fmt.Errorf("filters with : are currently not supported")
		}
		path, err := tagot.DownloadModel(downloadModelName, outputPath, tagot.NewDownloadOptions())
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("Model downloaded")
		return nil
	},
}

func main() {
	app := &cli.App{
		Name:     "tagot",
		Usage:    "Sequence tagging from the command line",
		Commands: []*cli.Command{trainCommand, evaluateCommand, predictCommand, runCommand, downloadCommand},
	}
	if err := app.Run(os.Args); err != nil {
		panic(err)
	}
}

func writeConfig(config *tagot.Config, path string) error {
	payload, err := jsoniter.Marshal(config)
	if err != nil {
		return err
	}
	writer, err := util.NewFileWriter(path, "application/json")
	if err != nil {
		return err
	}
	if _, err = writer.Write(payload); err != nil {
		return errors.Join(err, writer.Close())
	}
	return writer.Close()
}

func writeOutputs(wg *sync.WaitGroup, processedChannel chan []byte, errorChannel chan error, writeTarget io.WriteCloser) {
	for processedChannel != nil || errorChannel != nil {
		select {
		case output, ok := <-processedChannel:
			if !ok {
				processedChannel = nil
				continue
			}
			_, err := writeTarget.Write(output)
			checks.Check(err)
			_, err = writeTarget.Write([]byte("\n"))
			checks.Check(err)
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
				continue
			}
			if err != nil {
				_, writeErr := os.Stderr.WriteString(err.Error())
				checks.Check(writeErr)
			}
		}
	}
	wg.Done()
}

// tagInputs drains the input channel, tagging each sentence and caching
// results so repeated sentences skip the model entirely.
func tagInputs(wg *sync.WaitGroup, inputChannel chan []input, processedChannel chan []byte, errorsChannel chan error, learner *tagot.Learner, cache *fastcache.Cache) {
	for inputBatch := range inputChannel {
		for _, line := range inputBatch {
			key := []byte(line.Input)
			if cached := cache.Get(nil, key); len(cached) > 0 {
				processedChannel <- cached
				continue
			}
			predictions, err := learner.PredictScored(strings.Fields(line.Input))
			if err != nil {
				errorsChannel <- err
				continue
			}
			line.Output = predictions
			outputBytes, marshallErr := jsoniter.Marshal(line)
			if marshallErr != nil {
				errorsChannel <- marshallErr
				continue
			}
			cache.Set(key, outputBytes)
			processedChannel <- outputBytes
		}
	}
	wg.Done()
}

func readInputs(inputSource io.Reader, inputChannel chan []input) error {
	inputBatch := make([]input, 0, 20)

	scanner := bufio.NewScanner(inputSource)
	for scanner.Scan() {
		var line input
		if err := jsoniter.Unmarshal(scanner.Bytes(), &line); err != nil {
			return err
		}
		inputBatch = append(inputBatch, line)
		if len(inputBatch) == batchSize {
			inputChannel <- inputBatch
			inputBatch = []input{}
		}
	}
	if len(inputBatch) > 0 {
		inputChannel <- inputBatch
	}
	return scanner.Err()
}

type input struct {
	Input  string `json:"input"`
	Output any    `json:"output"`
}
