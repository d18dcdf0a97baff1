package main

import (
	"github.com/banshee-data/aimtrack/internal/config"
	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/geometry"
	"github.com/banshee-data/aimtrack/internal/timeutil"
	"github.com/banshee-data/aimtrack/internal/vision"
	"github.com/banshee-data/aimtrack/internal/vision/gocvcam"
)

// syntheticFrames is the loop length of the dev-mode target.
const syntheticFrames = 300

// newDetector picks the frame source: a fixture file when given, a synthetic
// wandering target in dev mode, otherwise the camera.
func newDetector(dev bool, fixturesPath string, cameraIndex int, tc *config.TuningConfig, clock timeutil.Clock) (controller.Detector, string, error) {
	filter := vision.FilterFromTuning(tc)
	switch {
	case fixturesPath != "":
		fx, err := vision.LoadFixture(fixturesPath)
		if err != nil {
			return nil, "", err
		}
		return vision.NewFixtureDetector(fx, filter, clock), "fixture:" + fixturesPath, nil
	case dev:
		frame := geometry.Frame{Width: tc.GetFrameWidth(), Height: tc.GetFrameHeight()}
		fx := vision.SyntheticFixture(frame, frame.Width*5/12, frame.Height/2, 3, syntheticFrames, 1)
		return vision.NewFixtureDetector(fx, filter, clock), "synthetic", nil
	default:
		return gocvcam.New(gocvcam.ConfigFromTuning(tc, cameraIndex), clock), "camera", nil
	}
}
