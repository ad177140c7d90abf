// Command genarchive writes synthetic gob archive files, so the loader can be
// exercised and benchmarked without real forecast archives.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/4castRenewables/maelstrom-train/archive"
)

func main() {
	outDir := flag.String("out", "data", "directory to write archive files into")
	numFiles := flag.Int("files", 2, "number of archive files")
	leadtimes := flag.Int("leadtimes", 6, "lead-time axis length")
	ySize := flag.Int("y", 32, "y axis length")
	xSize := flag.Int("x", 32, "x axis length")
	predictors := flag.String("predictors", "air_temperature_2m,cloud_area_fraction", "comma-separated dynamic predictor names")
	static := flag.String("static", "altitude", "comma-separated static predictor names (empty for none)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dyn := splitNames(*predictors)
	stat := splitNames(*static)
	if len(dyn) == 0 {
		logger.Error("at least one dynamic predictor is required")
		os.Exit(1)
	}

	for i := 0; i < *numFiles; i++ {
		f := synthesize(i, *leadtimes, *ySize, *xSize, dyn, stat)
		path := filepath.Join(*outDir, fmt.Sprintf("forecast_%03d.gob", i))
		if err := archive.Write(path, f); err != nil {
			logger.Error("write archive failed", "path", path, "error", err)
			os.Exit(1)
		}
		logger.Info("archive written", "path", path,
			"leadtimes", *leadtimes, "y", *ySize, "x", *xSize,
			"predictors", len(dyn), "static_predictors", len(stat))
	}
}

func splitNames(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// synthesize fills one archive with smooth, file-dependent fields: a spatial
// sine pattern drifting with lead time, so transformed samples are
// recognizable in plots and benchmarks.
func synthesize(seed, nl, ny, nx int, dyn, stat []string) *archive.File {
	f := &archive.File{
		PredictorNames:       dyn,
		StaticPredictorNames: stat,
		Leadtimes:            make([]float32, nl),
		YSize:                ny,
		XSize:                nx,
		Predictors:           make([]float32, nl*ny*nx*len(dyn)),
		StaticPredictors:     make([]float32, ny*nx*len(stat)),
		TargetMean:           make([]float32, nl*ny*nx),
	}
	for l := range f.Leadtimes {
		f.Leadtimes[l] = float32(l)
	}

	idx := 0
	for l := 0; l < nl; l++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				base := field(seed, l, y, x, ny, nx)
				for p := range dyn {
					f.Predictors[idx] = base + float32(p)
					idx++
				}
				f.TargetMean[(l*ny+y)*nx+x] = base + 0.5
			}
		}
	}

	idx = 0
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			for p := range stat {
				f.StaticPredictors[idx] = float32(p) + float32(y+x)/float32(ny+nx)
				idx++
			}
		}
	}
	return f
}

func field(seed, l, y, x, ny, nx int) float32 {
	fy := float64(y) / float64(ny)
	fx := float64(x) / float64(nx)
	drift := 0.1 * float64(l+seed)
	return float32(10*math.Sin(2*math.Pi*(fy+drift)) + 5*math.Cos(2*math.Pi*(fx-drift)))
}
