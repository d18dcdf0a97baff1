package controller

import (
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/aimtrack/internal/httputil"
)

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Mode         Mode           `json:"mode"`
	Degraded     bool           `json:"degraded"`
	Frames       uint64         `json:"frames"`
	Emitted      uint64         `json:"emitted"`
	Failures     int            `json:"consecutive_failures"`
	SendInterval time.Duration  `json:"send_interval_ns"`
	Radius       int            `json:"radius,omitempty"`
	Phase        float64        `json:"phase"`
	LastEmission *Emission      `json:"last_emission,omitempty"`
	Rejections   map[string]int `json:"rejections"`
	LastError    string         `json:"last_error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Serving reports whether the controller is actively producing points.
func (s Status) Serving() bool {
	return s.Mode != Idle && !s.Degraded
}

func (c *Controller) publishStatus(err error) {
	st := Status{
		Mode:         c.mode,
		Degraded:     c.degraded,
		Frames:       c.frames,
		Emitted:      c.emitted,
		Failures:     c.failures,
		SendInterval: c.gate.Interval(),
		Radius:       c.radius,
		Phase:        c.gen.State().Phase,
		Rejections:   c.validator.Counts(),
		UpdatedAt:    c.clock.Now(),
	}
	if c.lastEmit != nil {
		e := *c.lastEmit
		st.LastEmission = &e
	}

	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = c.status.LastError
	}
	c.status = st
}

// Status returns the snapshot taken at the end of the last cycle.
func (c *Controller) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st := c.status
	st.Rejections = make(map[string]int, len(c.status.Rejections))
	for k, v := range c.status.Rejections {
		st.Rejections[k] = v
	}
	return st
}

// AttachAdminRoutes exposes the status snapshot on the debug mux.
func (c *Controller) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("controller", "controller mode and counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, c.Status())
	})
}
