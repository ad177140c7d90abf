// Command loaderinfo inspects a loader configuration: it prints the resolved
// dataset description, optionally streams one epoch to measure per-stage
// timings, and can render the normalization coefficient table as a bar chart.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/4castRenewables/maelstrom-train/loader"
	"github.com/4castRenewables/maelstrom-train/observability"
)

func main() {
	configPath := flag.String("config", "", "loader configuration YAML file")
	runEpoch := flag.Bool("epoch", false, "stream one full epoch and report per-stage timings")
	shuffle := flag.Bool("shuffle", false, "shuffle the file order when streaming")
	plotCoeffs := flag.String("plot-coeffs", "", "write a normalization coefficient bar chart to this PNG path")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *configPath == "" {
		logger.Error("missing -config")
		os.Exit(2)
	}

	cfg, err := loader.FromConfigFile(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}

	timer := observability.NewStageTimer()
	l, err := loader.New(cfg,
		loader.WithLogger(logger),
		loader.WithStageTimer(timer),
		loader.WithMetrics(observability.NewMetrics()),
	)
	if err != nil {
		logger.Error("construct loader failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(l)

	if *plotCoeffs != "" {
		if err := renderCoefficients(l, *plotCoeffs); err != nil {
			logger.Error("plot coefficients failed", "error", err)
			os.Exit(1)
		}
		logger.Info("coefficient chart written", "path", *plotCoeffs)
	}

	if *runEpoch {
		if err := streamEpoch(l, *shuffle, logger, timer); err != nil {
			logger.Error("epoch stream failed", "error", err)
			os.Exit(1)
		}
	}
}

func streamEpoch(l *loader.Loader, shuffle bool, logger *slog.Logger, timer *observability.StageTimer) error {
	ds := l.Dataset(loader.DatasetOptions{Shuffle: shuffle})
	defer ds.Close()

	batches := 0
	samples := 0
	for {
		b, err := ds.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		batches++
		samples += b.Size
	}

	logger.Info("epoch complete",
		"batches", batches,
		"samples", samples,
		"bytes", humanize.IBytes(l.DataSize()),
	)
	for _, stage := range timer.Stages() {
		logger.Info("stage timing",
			"stage", stage,
			"total", timer.Total(stage),
			"calls", timer.Count(stage),
		)
	}
	return nil
}

// renderCoefficients draws the per-predictor mean and scale as grouped bars.
func renderCoefficients(l *loader.Loader, path string) error {
	coeffs := l.Coefficients()
	if coeffs == nil {
		return fmt.Errorf("no normalization source configured")
	}
	names := l.PredictorNames()

	means := make(plotter.Values, len(coeffs))
	scales := make(plotter.Values, len(coeffs))
	for i, c := range coeffs {
		means[i] = float64(c[0])
		scales[i] = float64(c[1])
	}

	p := plot.New()
	p.Title.Text = "Normalization coefficients"
	p.Y.Label.Text = "value"

	w := vg.Points(10)
	meanBars, err := plotter.NewBarChart(means, w)
	if err != nil {
		return err
	}
	meanBars.Color = plotutil.Color(0)
	meanBars.Offset = -w / 2

	scaleBars, err := plotter.NewBarChart(scales, w)
	if err != nil {
		return err
	}
	scaleBars.Color = plotutil.Color(1)
	scaleBars.Offset = w / 2

	p.Add(meanBars, scaleBars)
	p.Legend.Add("mean", meanBars)
	p.Legend.Add("scale", scaleBars)
	p.Legend.Top = true
	p.NominalX(names...)

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
