package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/httputil"
	"github.com/banshee-data/aimtrack/internal/protocol"
)

// AttachAdminRoutes mounts the trajectory views on the debug mux.
func (t *Trace) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("trajectory", "Scatter of recent aim points", t.handleTrajectory)
	debug.HandleSilentFunc("trajectory.png", t.handleTrajectoryPNG)
}

func scatterSeries(emissions []controller.Emission, mode controller.Mode, center bool) []opts.ScatterData {
	var data []opts.ScatterData
	for _, e := range emissions {
		if e.Mode != mode {
			continue
		}
		p := e.Point
		if center {
			p = e.Center
		}
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	return data
}

// renderTrajectory writes the scatter page for emissions to buf.
func renderTrajectory(buf *bytes.Buffer, emissions []controller.Emission, failures int) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Aim trajectory", Theme: "dark", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Aim trajectory",
			Subtitle: fmt.Sprintf("points=%d failed_cycles=%d", len(emissions), failures),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: protocol.CoordMax, Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: protocol.CoordMax, Name: "y", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("aim", scatterSeries(emissions, controller.AimBullseye, false),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries("tracking", scatterSeries(emissions, controller.CircleTracking, false),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("target center", scatterSeries(emissions, controller.CircleTracking, true),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	return scatter.Render(buf)
}

func (t *Trace) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := renderTrajectory(&buf, t.Emissions(), t.Failures()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (t *Trace) handleTrajectoryPNG(w http.ResponseWriter, r *http.Request) {
	p, err := trajectoryPlot(t.Emissions())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	wt, err := p.WriterTo(plotSize, plotSize, "png")
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}
