// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scalars logs named scalar values per step (typically per epoch) into a run directory.
//
// Points are appended as JSON lines to PointsFileName as they are added, by a background writer. When the
// Logger is closed, one SVG plot per metric type is rendered with margaid.
package scalars

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	mg "github.com/erkkah/margaid"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

const (
	// PointsFileName is the file, within the run directory, where the points are appended.
	PointsFileName = "scalars.jsonl"

	// RunIDFileName holds the unique identifier of the run.
	RunIDFileName = "run_id"

	// DirPermMode is used to create the run directories.
	DirPermMode = 0o755
)

// Point is one scalar value logged at a step.
type Point struct {
	// Name of the scalar, e.g. "loss_train".
	Name string

	// MetricType groups scalars in the same plot, e.g. "loss".
	MetricType string

	Step  float64
	Value float64
}

// MetricType returns the metric type of a scalar name: "loss" for names starting with "loss", "accuracy" for
// names starting with "acc" and the name itself otherwise.
func MetricType(name string) string {
	switch {
	case strings.HasPrefix(name, "loss"):
		return "loss"
	case strings.HasPrefix(name, "acc"):
		return "accuracy"
	default:
		return name
	}
}

// Logger of scalar values. It is not safe for concurrent use.
type Logger struct {
	dir       string
	runID     uuid.UUID
	step      int
	pointsOut chan<- Point
	errReport <-chan error
	perType   map[string]*typePlot
	closed    bool
}

// New creates a Logger writing into dir, which is created if needed. It writes a new run identifier in
// RunIDFileName.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory %q", dir)
	}
	l := &Logger{
		dir:     dir,
		runID:   uuid.New(),
		perType: make(map[string]*typePlot),
	}
	if err := os.WriteFile(filepath.Join(dir, RunIDFileName), []byte(l.runID.String()+"\n"), 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write run id in %q", dir)
	}
	l.pointsOut, l.errReport = createPointsWriter(filepath.Join(dir, PointsFileName))
	klog.V(1).Infof("logging scalars of run %s to %q", l.runID, dir)
	return l, nil
}

// Dir where the logs are written.
func (l *Logger) Dir() string { return l.dir }

// RunID is the unique identifier of this run.
func (l *Logger) RunID() uuid.UUID { return l.runID }

// AddScalar logs value for name at the current step.
func (l *Logger) AddScalar(name string, value float64) {
	if l.closed {
		klog.Warningf("scalars.Logger: AddScalar(%q) called after Close, ignored", name)
		return
	}
	point := Point{Name: name, MetricType: MetricType(name), Step: float64(l.step), Value: value}
	l.pointsOut <- point
	plot, found := l.perType[point.MetricType]
	if !found {
		plot = &typePlot{perName: make(map[string]*mg.Series), allPoints: mg.NewSeries()}
		l.perType[point.MetricType] = plot
	}
	plot.add(name, point.Step, point.Value)
}

// typePlot holds the series of all scalars of a metric type.
type typePlot struct {
	perName   map[string]*mg.Series
	allPoints *mg.Series
}

func (p *typePlot) add(name string, step, value float64) {
	s, found := p.perName[name]
	if !found {
		s = mg.NewSeries(mg.Titled(name))
		p.perName[name] = s
	}
	v := mg.MakeValue(step, value)
	s.Add(v)
	p.allPoints.Add(v)
}

// Step moves to the next step.
func (l *Logger) Step() { l.step++ }

// SetStep sets the current step, e.g. when resuming a run.
func (l *Logger) SetStep(step int) { l.step = step }

// Close flushes the points file and renders one plot per metric type.
func (l *Logger) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.pointsOut)
	err := <-l.errReport
	for _, metricType := range sortedKeys(l.perType) {
		svg, plotErr := plotSVG(metricType, l.perType[metricType])
		if plotErr == nil {
			filePath := filepath.Join(l.dir, fmt.Sprintf("plot_%s.svg", sanitize(metricType)))
			plotErr = errors.Wrapf(os.WriteFile(filePath, svg, 0o644), "failed to write plot %q", filePath)
		}
		if plotErr != nil && err == nil {
			err = plotErr
		}
	}
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

var reUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitize(name string) string { return reUnsafeChars.ReplaceAllString(name, "_") }

// plotSVG renders all series of a metric type in one diagram.
func plotSVG(metricType string, plot *typePlot) ([]byte, error) {
	allSeries := make([]*mg.Series, 0, len(plot.perName))
	for _, name := range sortedKeys(plot.perName) {
		allSeries = append(allSeries, plot.perName[name])
	}
	diagram := mg.New(800, 400,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(plot.allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epochs")
	diagram.Axis(plot.allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, metricType)
	diagram.Frame()
	diagram.Title(metricType)
	diagram.Legend(mg.BottomLeft)
	buf := bytes.NewBuffer(nil)
	if err := diagram.Render(buf); err != nil {
		return nil, errors.Wrapf(err, "failed to render plot for %q", metricType)
	}
	return buf.Bytes(), nil
}

// createPointsWriter appends the points sent to the returned channel to filePath. The final error (or nil)
// is reported once the channel is closed.
func createPointsWriter(filePath string) (pointsOut chan<- Point, errReport <-chan error) {
	pointsChan := make(chan Point, 100)
	errChan := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			err = errors.Wrapf(err, "failed to open scalars file %q for append", filePath)
			klog.Errorf("Error: %v", err)
		}
		var enc *json.Encoder
		if f != nil {
			enc = json.NewEncoder(f)
		}
		for point := range pointsChan {
			if err != nil {
				continue
			}
			if err = enc.Encode(point); err != nil {
				err = errors.Wrapf(err, "failed to encode point %+v", point)
				klog.Errorf("Error: %v", err)
			}
		}
		if f != nil {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}
		errChan <- err
	}()
	return pointsChan, errChan
}

// LoadPoints reads all the points saved in a run directory.
func LoadPoints(dir string) ([]Point, error) {
	filePath := filepath.Join(dir, PointsFileName)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scalars file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding scalars file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

var reRunDir = regexp.MustCompile(`^(\d+)_run-`)

// RunDir creates and returns a new run directory under logDir, named "<N>_run-batchSize_<batchSize>", where N
// is one more than the largest run number already in logDir (starting at 0).
func RunDir(logDir string, batchSize int) (string, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to list log directory %q", logDir)
	}
	next := 0
	for _, entry := range entries {
		matches := reRunDir.FindStringSubmatch(entry.Name())
		if !entry.IsDir() || matches == nil {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(matches[1], "%d", &n); err == nil && n >= next {
			next = n + 1
		}
	}
	dir := filepath.Join(logDir, fmt.Sprintf("%d_run-batchSize_%d", next, batchSize))
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return "", errors.Wrapf(err, "failed to create run directory %q", dir)
	}
	return dir, nil
}
