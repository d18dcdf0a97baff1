package controller

import (
	"time"

	"github.com/banshee-data/aimtrack/internal/geometry"
)

// Emission describes one packet that reached the transport.
type Emission struct {
	At    time.Time      `json:"at"`
	Mode  Mode           `json:"mode"`
	Point geometry.Point `json:"point"`
	// Center is the perspective-corrected target center the point was derived from.
	Center geometry.Point `json:"center"`
	// Radius, Ellipse and Phase are only set in tracking mode.
	Radius  int                     `json:"radius,omitempty"`
	Ellipse *geometry.EllipseParams `json:"ellipse,omitempty"`
	Phase   float64                 `json:"phase,omitempty"`
}

// Observer receives controller events. Callbacks run on the control loop
// goroutine and must not block.
type Observer interface {
	// ModeChanged is called for every recognized command, so from may equal to.
	ModeChanged(from, to Mode, at time.Time)
	Emitted(e Emission)
	CycleFailed(err error, at time.Time)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) ModeChanged(from, to Mode, at time.Time) {
	for _, o := range obs {
		o.ModeChanged(from, to, at)
	}
}

func (obs Observers) Emitted(e Emission) {
	for _, o := range obs {
		o.Emitted(e)
	}
}

func (obs Observers) CycleFailed(err error, at time.Time) {
	for _, o := range obs {
		o.CycleFailed(err, at)
	}
}

type nopObserver struct{}

func (nopObserver) ModeChanged(Mode, Mode, time.Time) {}
func (nopObserver) Emitted(Emission)                  {}
func (nopObserver) CycleFailed(error, time.Time)      {}
