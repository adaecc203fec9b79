//go:build !NODOWNLOAD

package tagot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/phuslu/log"

	"github.com/knights-analytics/tagot/util"
)

// DownloadOptions configures a hub model download.
type DownloadOptions struct {
	AuthToken             string
	OnnxFilePath          string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	Verbose               bool
}

// NewDownloadOptions creates DownloadOptions with default values.
func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{
		Branch:                "main",
		MaxRetries:            5,
		RetryInterval:         5,
		ConcurrentConnections: 5,
	}
}

// DownloadModel fetches a pretrained encoder from the HuggingFace hub into
// destination. The repository is validated first: it must carry exactly one
// .onnx file (or the one named by OnnxFilePath) and a tokenizer.json, since
// the ONNX emission backends work with nothing else. Returns the local
// model directory.
func DownloadModel(modelName string, destination string, options DownloadOptions) (string, error) {
	repoName := modelName
	if strings.Contains(repoName, ":") {
		repoName = strings.Split(modelName, ":")[0]
	}
	modelPath := path.Join(destination, strings.ReplaceAll(repoName, "/", "_"))

	repo := hub.New(modelName)
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	if options.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}
	if options.Branch != "" {
		repo.WithRevision(hub.RepoType(options.Branch))
	}

	downloadFiles, err := validateHubModel(repo, options)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= options.MaxRetries; attempt++ {
		downloadPaths, downloadErr := repo.DownloadFiles(downloadFiles...)
		if downloadErr != nil {
			log.Warn().Int("attempt", attempt).Int("of", options.MaxRetries).Err(downloadErr).Msg("Download attempt failed")
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
			continue
		}

		for i, downloadPath := range downloadPaths {
			truePath, symErr := filepath.EvalSymlinks(downloadPath)
			if symErr != nil {
				return "", symErr
			}
			copyErr := util.CopyFile(context.Background(), truePath, util.PathJoinSafe(modelPath, path.Base(downloadFiles[i])))
			if copyErr != nil {
				return "", copyErr
			}
		}

		log.Info().Str("model", modelName).Str("path", modelPath).Msg("Download completed")
		return modelPath, nil
	}

	return "", fmt.Errorf("failed to download %s after %d attempts", modelName, options.MaxRetries)
}

func validateHubModel(repo *hub.Repo, options DownloadOptions) ([]string, error) {
	for attempt := 1; attempt <= options.MaxRetries; attempt++ {
		err := repo.DownloadInfo(false)
		if err == nil {
			break
		}
		log.Warn().Int("attempt", attempt).Int("of", options.MaxRetries).Err(err).Msg("Listing repository failed")
		if attempt == options.MaxRetries {
			return nil, err
		}
		time.Sleep(time.Duration(options.RetryInterval) * time.Second)
	}

	tokenizerPath := ""
	onnxPath := ""
	var toDownload []string
	var allOnnx []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		switch base := filepath.Base(fileName); {
		case base == "tokenizer.json":
			tokenizerPath = fileName
		case base == "special_tokens_map.json" || base == "tokenizer_config.json" || base == "config.json" || base == "vocab.txt":
			toDownload = append(toDownload, fileName)
		case filepath.Ext(base) == ".onnx":
			if options.OnnxFilePath == "" || fileName == options.OnnxFilePath {
				onnxPath = fileName
			}
			allOnnx = append(allOnnx, fileName)
		}
	}

	var errs []error
	if options.OnnxFilePath != "" {
		if onnxPath == "" {
			errs = append(errs, fmt.Errorf("model .onnx file not found at %s", options.OnnxFilePath))
		}
	} else if len(allOnnx) == 0 {
		errs = append(errs, errors.New("model does not have a .onnx file, the emission backends only work with onnx models"))
	} else if len(allOnnx) > 1 {
		errs = append(errs, fmt.Errorf("model has multiple .onnx files, please specify one of: %s", strings.Join(allOnnx, " ")))
	}
	if tokenizerPath == "" {
		errs = append(errs, errors.New("model does not have a tokenizer.json file"))
	}

	files := append(toDownload, onnxPath, tokenizerPath)
	return files, errors.Join(errs...)
}
