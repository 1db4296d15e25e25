package control

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// StepLog is a snapshot of the controller log, safe to export from
// another goroutine.
type StepLog struct {
	Samples  []Sample
	Setpoint float64
}

// Log returns a snapshot of the step log and the current setpoint.
func (c *Controller) Log() StepLog {
	return StepLog{Samples: c.Samples(), Setpoint: c.setpoint}
}

// WriteCSV writes the log as "time_ms,position" rows.
func (l StepLog) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time_ms", "position"}); err != nil {
		return err
	}
	for _, s := range l.Samples {
		row := []string{
			strconv.FormatInt(s.Elapsed.Milliseconds(), 10),
			strconv.FormatInt(s.Position, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Plot builds a position-versus-time plot with the setpoint drawn as a
// reference line.
func (l StepLog) Plot(title string) (*plot.Plot, error) {
	samples := l.Samples
	if len(samples) == 0 {
		return nil, fmt.Errorf("step log is empty")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (ms)"
	p.Y.Label.Text = "position (counts)"

	pts := make(plotter.XYs, len(samples))
	ref := make(plotter.XYs, len(samples))
	for i, s := range samples {
		ms := float64(s.Elapsed.Microseconds()) / 1000
		pts[i].X, pts[i].Y = ms, float64(s.Position)
		ref[i].X, ref[i].Y = ms, l.Setpoint
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Width = vg.Points(2)
	target, err := plotter.NewLine(ref)
	if err != nil {
		return nil, err
	}
	target.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(line, target)
	p.Legend.Add("position", line)
	p.Legend.Add("setpoint", target)
	return p, nil
}

// WritePNG renders the step response plot as a PNG image.
func (l StepLog) WritePNG(w io.Writer, title string) error {
	p, err := l.Plot(title)
	if err != nil {
		return err
	}
	canvas := vgimg.NewWith(vgimg.UseWH(8*vg.Inch, 5*vg.Inch), vgimg.UseDPI(96))
	p.Draw(draw.New(canvas))
	png := vgimg.PngCanvas{Canvas: canvas}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// Save writes <name>.csv and <name>.png into dir.
func (l StepLog) Save(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := writeFile(filepath.Join(dir, name+".csv"), l.WriteCSV); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, name+".png"), func(w io.Writer) error {
		return l.WritePNG(w, "Step response "+name)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
