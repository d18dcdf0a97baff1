package monitor

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/protocol"
)

const plotSize = 6 * vg.Inch

var (
	aimColor    = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	trackColor  = color.RGBA{R: 38, G: 139, B: 210, A: 255}
	centerColor = color.RGBA{R: 133, G: 153, B: 0, A: 255}
)

func pointsFor(emissions []controller.Emission, mode controller.Mode, center bool) plotter.XYs {
	pts := make(plotter.XYs, 0, len(emissions))
	for _, e := range emissions {
		if e.Mode != mode {
			continue
		}
		p := e.Point
		if center {
			p = e.Center
		}
		pts = append(pts, plotter.XY{X: float64(p.X), Y: float64(p.Y)})
	}
	return pts
}

// trajectoryPlot builds a plot of emitted points in output coordinates.
func trajectoryPlot(emissions []controller.Emission) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Aim trajectory (%d points)", len(emissions))
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.X.Min, p.X.Max = 0, protocol.CoordMax
	p.Y.Min, p.Y.Max = 0, protocol.CoordMax
	p.Add(plotter.NewGrid())

	series := []struct {
		label  string
		mode   controller.Mode
		center bool
		color  color.Color
		radius vg.Length
	}{
		{"aim", controller.AimBullseye, false, aimColor, vg.Points(3)},
		{"tracking", controller.CircleTracking, false, trackColor, vg.Points(2)},
		{"target center", controller.CircleTracking, true, centerColor, vg.Points(1)},
	}
	for _, s := range series {
		pts := pointsFor(emissions, s.mode, s.center)
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = s.color
		sc.GlyphStyle.Radius = s.radius
		p.Add(sc)
		p.Legend.Add(s.label, sc)
	}
	return p, nil
}

// SavePlot writes the buffered trajectory to path; the extension selects the
// image format.
func (t *Trace) SavePlot(path string) error {
	p, err := trajectoryPlot(t.Emissions())
	if err != nil {
		return err
	}
	if err := p.Save(plotSize, plotSize, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}
