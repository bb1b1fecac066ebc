package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"perf-trend-alerts/internal/series"
)

// exportPoint pairs a raw sample with its smoothed value. Smoothed is NaN
// for the leading samples a valid-mode smoother does not cover.
type exportPoint struct {
	Timestamp time.Time
	Raw       float64
	Smoothed  float64
}

// Export renders one series, raw against smoothed, as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Branch == "" || opts.Metric == "" {
		return errors.New("--branch and --metric are required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	source, closeSource, err := a.openSource(ctx, store)
	if err != nil {
		return err
	}
	defer closeSource()

	analyzer, err := a.newAnalyzer(source)
	if err != nil {
		return err
	}
	out, err := analyzer.Run(ctx)
	if err != nil {
		return err
	}

	s, ok := series.Find(out.Series, opts.Branch, opts.Metric)
	if !ok {
		return fmt.Errorf("no eligible series for branch %q metric %q", opts.Branch, opts.Metric)
	}
	smoothed, err := analyzer.Smooth(s)
	if err != nil {
		return err
	}

	points := downsamplePoints(alignSmoothed(s, smoothed), opts.MaxPoints)
	a.Logger.Info().Int("total", s.Len()).Int("exported", len(points)).
		Str("branch", s.Branch).Str("metric", s.Metric).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, s.Branch+" / "+s.Metric, points); err != nil {
			return err
		}
	}

	return nil
}

// alignSmoothed right-aligns the smoothed sequence with the raw points.
func alignSmoothed(s series.Series, smoothed []float64) []exportPoint {
	offset := s.Len() - len(smoothed)
	out := make([]exportPoint, s.Len())
	for i, p := range s.Points {
		out[i] = exportPoint{Timestamp: p.Timestamp, Raw: p.Value, Smoothed: math.NaN()}
		if j := i - offset; j >= 0 && j < len(smoothed) {
			out[i].Smoothed = smoothed[j]
		}
	}
	return out
}

func downsamplePoints(points []exportPoint, max int) []exportPoint {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]exportPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []exportPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"timestamp", "raw", "smoothed"}); err != nil {
		return err
	}

	for _, p := range points {
		smoothed := ""
		if !math.IsNaN(p.Smoothed) {
			smoothed = strconv.FormatFloat(p.Smoothed, 'f', -1, 64)
		}
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Raw, 'f', -1, 64),
			smoothed,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writePointsPNG(path, title string, points []exportPoint) error {
	if len(points) < 2 {
		return errors.New("at least two points are needed to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	raw := make([]float64, len(points))
	var sx []time.Time
	var smoothed []float64

	for i, p := range points {
		x[i] = p.Timestamp
		raw[i] = p.Raw
		if !math.IsNaN(p.Smoothed) {
			sx = append(sx, p.Timestamp)
			smoothed = append(smoothed, p.Smoothed)
		}
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Median",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Raw",
				XValues: x,
				YValues: raw,
			},
		},
	}
	if len(smoothed) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Smoothed",
			XValues: sx,
			YValues: smoothed,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
