package tagot

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	progressbar "github.com/schollz/progressbar/v3"
)

// Metric is one named value reported during training.
type Metric struct {
	Name  string
	Value float64
}

// Progress receives step-by-step training feedback. Purely observational;
// implementations must not touch the learner.
type Progress interface {
	// Update reports that step of target steps finished, with the
	// current metric values.
	Update(step, target int, values ...Metric)
	// Finish closes the current progress line, called once per epoch.
	Finish()
}

// NewProgress picks a terminal progress bar when stdout is a terminal and
// falls back to log lines otherwise, so redirected runs stay parseable.
func NewProgress() Progress {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return &barProgress{}
	}
	return &logProgress{}
}

type barProgress struct {
	bar    *progressbar.ProgressBar
	target int
}

func (p *barProgress) Update(step, target int, values ...Metric) {
	if p.bar == nil || p.target != target {
		p.bar = progressbar.NewOptions(target,
			progressbar.OptionSetDescription("training"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		p.target = target
	}
	if len(values) > 0 {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf("%s=%.4f", v.Name, v.Value)
		}
		p.bar.Describe(strings.Join(parts, " "))
	}
	_ = p.bar.Set(step)
}

func (p *barProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

type logProgress struct{}

func (p *logProgress) Update(step, target int, values ...Metric) {
	// one line per quarter keeps redirected logs short
	quarter := target / 4
	if quarter == 0 {
		quarter = 1
	}
	if step%quarter != 0 && step != target {
		return
	}
	entry := log.Info().Int("step", step).Int("of", target)
	for _, v := range values {
		entry = entry.Float64(v.Name, v.Value)
	}
	entry.Msg("progress")
}

func (p *logProgress) Finish() {}
