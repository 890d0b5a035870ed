// Package diag writes optional per-run diagnostics: marker masks, per-frame clouds, filter and
// registration traces. A nil *Recorder is valid and records nothing.
package diag

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage"

	"github.com/erh/turntablescan/geom"
	"github.com/erh/turntablescan/imgutils"
)

// FilterRow is one rotation estimator step.
type FilterRow struct {
	Timestamp float64
	Dt        float64
	Dx        float64
	DTheta    float64
	Theta     float64
	ThetaKF   float64
	OmegaKF   float64
}

type Recorder struct {
	dir    string
	logger logging.Logger

	mu        sync.Mutex
	filterLog *csvLog
	icpLog    *csvLog
	markerLog *csvLog
	icpPairs  int
	filter    []FilterRow
}

type csvLog struct {
	f *os.File
	w *csv.Writer
}

func openCSV(fn string, header ...string) (*csvLog, error) {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	l := &csvLog{f: f, w: csv.NewWriter(f)}
	if err := l.write(header...); err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	return l, nil
}

func (l *csvLog) write(fields ...string) error {
	if err := l.w.Write(fields); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *csvLog) close() error {
	l.w.Flush()
	return multierr.Combine(l.w.Error(), l.f.Close())
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// New creates dir (with cv/ and geom/ below it) and opens the trace logs.
func New(dir string, logger logging.Logger) (*Recorder, error) {
	for _, d := range []string{dir, filepath.Join(dir, "cv"), filepath.Join(dir, "geom")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}

	r := &Recorder{dir: dir, logger: logger}
	var err error

	r.filterLog, err = openCSV(filepath.Join(dir, "filter.csv"), "t", "dt", "dx", "dtheta", "theta", "theta_KF", "omega_KF")
	if err != nil {
		return nil, err
	}
	r.icpLog, err = openCSV(filepath.Join(dir, "icp.csv"), "Pair", "Iterations", "LastError")
	if err != nil {
		return nil, multierr.Combine(err, r.filterLog.close())
	}
	r.markerLog, err = openCSV(filepath.Join(dir, "markerPosition.csv"), "f", "t", "x", "y", "z", "confidence")
	if err != nil {
		return nil, multierr.Combine(err, r.filterLog.close(), r.icpLog.close())
	}

	return r, nil
}

func (r *Recorder) warn(what string, err error) {
	if err != nil {
		r.logger.Warnf("diagnostics: cannot write %s: %v", what, err)
	}
}

// Mask writes a detector mask as cv/<marker>.<stage><frame>.png.
func (r *Recorder) Mask(frame int, marker, stage string, m *imgutils.Mask) {
	if r == nil {
		return
	}
	fn := filepath.Join(r.dir, "cv", fmt.Sprintf("%s.%s%d.png", marker, stage, frame))
	r.warn(fn, rimage.WriteImageToFile(fn, m.ToImage()))
}

// Cloud writes a frame's clipped cloud as geom/cloud<frame>.pcd, in millimeters.
func (r *Recorder) Cloud(frame int, pc *geom.PointCloud) {
	if r == nil {
		return
	}
	fn := filepath.Join(r.dir, "geom", fmt.Sprintf("cloud%d.pcd", frame))
	r.warn(fn, writePCD(fn, pc))
}

func writePCD(fn string, pc *geom.PointCloud) (err error) {
	out, err := pc.ToRDK(1000)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return pointcloud.ToPCD(out, f, pointcloud.PCDBinary)
}

// Marker logs the rotation marker chosen for a frame.
func (r *Recorder) Marker(frame int, t float64, p geom.Point3D) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warn("marker log", r.markerLog.write(strconv.Itoa(frame), ff(t),
		ff(float64(p.X)), ff(float64(p.Y)), ff(float64(p.Z)), ff(float64(p.Confidence))))
}

// ICP logs one registration call.
func (r *Recorder) ICP(iterations int, lastError float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warn("icp log", r.icpLog.write(strconv.Itoa(r.icpPairs), strconv.Itoa(iterations), ff(lastError)))
	r.icpPairs++
}

// Filter logs one rotation estimator step; the rows are plotted on Close.
func (r *Recorder) Filter(row FilterRow) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = append(r.filter, row)
	r.warn("filter log", r.filterLog.write(ff(row.Timestamp), ff(row.Dt), ff(row.Dx), ff(row.DTheta),
		ff(row.Theta), ff(row.ThetaKF), ff(row.OmegaKF)))
}

// Close writes filter.png and closes the logs.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if len(r.filter) > 0 {
		err = multierr.Combine(err, r.plotFilter(filepath.Join(r.dir, "filter.png")))
	}
	return multierr.Combine(err, r.filterLog.close(), r.icpLog.close(), r.markerLog.close())
}

func (r *Recorder) plotFilter(fn string) error {
	p := plot.New()
	p.Title.Text = "Turntable angle"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Angle (rad)"

	raw := make(plotter.XYs, 0, len(r.filter))
	filtered := make(plotter.XYs, 0, len(r.filter))
	for _, row := range r.filter {
		raw = append(raw, plotter.XY{X: row.Timestamp, Y: row.Theta})
		filtered = append(filtered, plotter.XY{X: row.Timestamp, Y: row.ThetaKF})
	}

	rawLine, err := plotter.NewLine(raw)
	if err != nil {
		return err
	}
	rawLine.Width = vg.Points(1)
	rawLine.Color = color.RGBA{R: 200, G: 60, B: 60, A: 255}
	p.Add(rawLine)
	p.Legend.Add("measured", rawLine)

	filteredLine, err := plotter.NewLine(filtered)
	if err != nil {
		return err
	}
	filteredLine.Width = vg.Points(1)
	filteredLine.Color = color.RGBA{R: 40, G: 90, B: 200, A: 255}
	p.Add(filteredLine)
	p.Legend.Add("filtered", filteredLine)

	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(10*vg.Inch, 5*vg.Inch, fn); err != nil {
		return fmt.Errorf("save filter plot: %w", err)
	}
	return nil
}
