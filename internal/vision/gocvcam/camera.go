// Package gocvcam reads frames from a V4L2/UVC camera with OpenCV and turns
// dark regions into detector candidates.
package gocvcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/aimtrack/internal/config"
	"github.com/banshee-data/aimtrack/internal/geometry"
	"github.com/banshee-data/aimtrack/internal/monitoring"
	"github.com/banshee-data/aimtrack/internal/target"
	"github.com/banshee-data/aimtrack/internal/timeutil"
	"github.com/banshee-data/aimtrack/internal/vision"
)

var (
	// ErrNotOpen is returned by Candidates before Open succeeds.
	ErrNotOpen = errors.New("camera not open")
	// ErrNoFrame is returned when the capture yields no image.
	ErrNoFrame = errors.New("camera returned no frame")
)

var logf = monitoring.Prefixed("camera")

// V4L2 maps CAP_PROP_AUTO_EXPOSURE to 0.25 (manual) and 0.75 (aperture priority).
const (
	exposureManual = 0.25
	exposureAuto   = 0.75
)

// Config selects the device and the detection parameters.
type Config struct {
	Device int
	Frame  geometry.Frame
	// DarkThreshold is the highest grey level counted as target ink.
	DarkThreshold uint8
	Filter        vision.BlobFilter
	// GainSettle and ExposureSettle are the warm-up windows after disabling
	// auto gain and after enabling auto exposure.
	GainSettle     time.Duration
	ExposureSettle time.Duration
}

// DefaultConfig returns the calibrated HQVGA greyscale setup.
func DefaultConfig() Config {
	return Config{
		Frame:          geometry.Frame{Width: 240, Height: 160},
		DarkThreshold:  20,
		Filter:         vision.DefaultBlobFilter(),
		GainSettle:     300 * time.Millisecond,
		ExposureSettle: 500 * time.Millisecond,
	}
}

// ConfigFromTuning applies the frame size and blob settings from the tuning
// file to DefaultConfig.
func ConfigFromTuning(tc *config.TuningConfig, device int) Config {
	cfg := DefaultConfig()
	cfg.Device = device
	cfg.Frame = geometry.Frame{Width: tc.GetFrameWidth(), Height: tc.GetFrameHeight()}
	cfg.DarkThreshold = uint8(tc.GetDarkThreshold())
	cfg.Filter = vision.FilterFromTuning(tc)
	return cfg
}

// Camera implements the controller's Detector over an OpenCV capture.
type Camera struct {
	cfg   Config
	clock timeutil.Clock

	mu  sync.Mutex
	vc  *gocv.VideoCapture
	img gocv.Mat
}

// New returns an unopened camera.
func New(cfg Config, clock timeutil.Clock) *Camera {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Camera{cfg: cfg, clock: clock, img: gocv.NewMat()}
}

// Open (re)initialises the device: fixed resolution, auto gain and white
// balance off, then a short auto-exposure pass that is locked afterwards.
func (c *Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCapture()
	vc, err := gocv.VideoCaptureDevice(c.cfg.Device)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("open camera %d: device not available", c.cfg.Device)
	}
	c.vc = vc

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Frame.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Frame.Height))
	vc.Set(gocv.VideoCaptureConvertRGB, 0)
	vc.Set(gocv.VideoCaptureAutoWB, 0)
	vc.Set(gocv.VideoCaptureGain, 0)

	if err := c.skipFrames(ctx, c.cfg.GainSettle); err != nil {
		return err
	}
	vc.Set(gocv.VideoCaptureAutoExposure, exposureAuto)
	if err := c.skipFrames(ctx, c.cfg.ExposureSettle); err != nil {
		return err
	}
	vc.Set(gocv.VideoCaptureAutoExposure, exposureManual)

	w, h := vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight)
	logf("opened device %d at %.0fx%.0f", c.cfg.Device, w, h)
	return nil
}

func (c *Camera) skipFrames(ctx context.Context, d time.Duration) error {
	start := c.clock.Now()
	for timeutil.Elapsed(start, c.clock.Now()) < d {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.vc.Read(&c.img) {
			return ErrNoFrame
		}
	}
	return nil
}

// Candidates grabs one frame and returns its filtered dark regions.
func (c *Camera) Candidates(ctx context.Context) ([]target.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil, ErrNotOpen
	}
	if !c.vc.Read(&c.img) || c.img.Empty() {
		return nil, ErrNoFrame
	}

	gray := c.img
	if c.img.Channels() > 1 {
		converted := gocv.NewMat()
		defer converted.Close()
		gocv.CvtColor(c.img, &converted, gocv.ColorBGRToGray)
		gray = converted
	}
	if gray.Cols() != c.cfg.Frame.Width || gray.Rows() != c.cfg.Frame.Height {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(gray, &resized, image.Pt(c.cfg.Frame.Width, c.cfg.Frame.Height), 0, 0, gocv.InterpolationArea)
		gray = resized
	}
	return c.cfg.Filter.Apply(DarkRegions(gray, c.cfg.DarkThreshold)), nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCapture()
	return c.img.Close()
}

func (c *Camera) closeCapture() {
	if c.vc != nil {
		c.vc.Close()
		c.vc = nil
	}
}

// DarkRegions thresholds a greyscale image at dark (inclusive) and returns one
// candidate per external contour: its bounding box, the count of dark pixels
// inside that box and the contour length.
func DarkRegions(gray gocv.Mat, dark uint8) []target.Candidate {
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, float32(dark), 255, gocv.ThresholdBinaryInv)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	out := make([]target.Candidate, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		r := gocv.BoundingRect(contour)
		if r.Empty() {
			continue
		}
		roi := mask.Region(r)
		pixels := gocv.CountNonZero(roi)
		roi.Close()
		out = append(out, target.Candidate{
			Rect:      geometry.Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
			Pixels:    pixels,
			Perimeter: gocv.ArcLength(contour, true),
		})
	}
	return out
}
