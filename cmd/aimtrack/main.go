package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/aimtrack/internal/config"
	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/db"
	"github.com/banshee-data/aimtrack/internal/health"
	"github.com/banshee-data/aimtrack/internal/monitor"
	"github.com/banshee-data/aimtrack/internal/serialmux"
	"github.com/banshee-data/aimtrack/internal/telemetry"
	"github.com/banshee-data/aimtrack/internal/timeutil"
	"github.com/banshee-data/aimtrack/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run without serial hardware or camera (synthetic target, commands via /debug/send-command)")
	listen      = flag.String("listen", ":8080", "Debug HTTP listen address (empty disables)")
	port        = flag.String("port", "/dev/ttyACM0", "Serial port to the aiming controller (ignored in dev mode)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	configPath  = flag.String("config", "", "Tuning config JSON (empty uses built-in defaults)")
	fixtures    = flag.String("fixtures", "", "Replay detector frames from a JSON fixture instead of the camera")
	camera      = flag.Int("camera", 0, "Camera device index")
	dbPath      = flag.String("db", "aimtrack.db", "SQLite session history (empty disables)")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)")
	mqttTopic   = flag.String("mqtt-topic", telemetry.DefaultTopic, "MQTT topic prefix")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health service listen address (empty disables)")
	plotOut     = flag.String("plot-out", "", "Write a trajectory plot to this file on shutdown")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	clock := timeutil.RealClock{}

	var link serialmux.SerialMuxInterface
	if *devMode {
		link = serialmux.NewDisabledSerialMux()
	} else {
		link, err = serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
	}
	defer link.Close()

	det, detName, err := newDetector(*devMode, *fixtures, *camera, tuning, clock)
	if err != nil {
		log.Fatalf("failed to create detector: %v", err)
	}
	if c, ok := det.(io.Closer); ok {
		defer c.Close()
	}
	log.Printf("using %s detector", detName)

	trace := monitor.NewTrace(monitor.DefaultCapacity)
	observers := controller.Observers{trace}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *db.DB
	var recorder *db.Recorder
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer store.Close()
		session, err := store.StartSession(db.SessionInfo{
			Version:  version.Version,
			Port:     portLabel(*devMode, *port),
			Detector: detName,
		}, clock.Now())
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		log.Printf("recording session %s to %s", session, *dbPath)
		recorder = db.NewRecorder(store, session, db.DefaultRecorderBuffer)
		observers = append(observers, recorder)
	}

	var publisher *telemetry.Publisher
	if *mqttBroker != "" {
		client, err := telemetry.Connect(ctx, telemetry.Options{Broker: *mqttBroker, Topic: *mqttTopic})
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer client.Disconnect(250)
		publisher = telemetry.NewPublisher(client, *mqttTopic, telemetry.DefaultAimInterval)
		observers = append(observers, publisher)
	}

	ctrl := controller.New(controller.ConfigFromTuning(tuning), det, link,
		controller.WithClock(clock),
		controller.WithObserver(observers),
	)

	var wg sync.WaitGroup

	// serial IO
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := serialmux.Supervise(ctx, link, clock, tuning.GetReinitBackoff())
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial monitor stopped: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// control loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("control loop stopped: %v", err)
		}
		log.Print("control loop terminated")
	}()

	if publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = publisher.RunStatus(ctx, clock, telemetry.DefaultStatusInterval, ctrl.Status)
		}()
	}

	if *grpcListen != "" {
		hs := health.New(ctrl)
		if err := hs.Start(*grpcListen); err != nil {
			log.Fatalf("failed to start health server: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hs.Watch(ctx, clock, time.Second)
			hs.Stop()
		}()
	}

	if *listen != "" {
		mux := http.NewServeMux()
		link.AttachAdminRoutes(mux)
		ctrl.AttachAdminRoutes(mux)
		trace.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Fatalf("failed to attach db routes: %v", err)
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, *listen, mux)
		}()
	}

	wg.Wait()

	if recorder != nil {
		recorder.Close()
		if err := store.EndSession(recorder.Session(), clock.Now()); err != nil {
			log.Printf("failed to end session: %v", err)
		}
		if n := recorder.Dropped(); n > 0 {
			log.Printf("recorder dropped %d events", n)
		}
	}
	if *plotOut != "" {
		if err := trace.SavePlot(*plotOut); err != nil {
			log.Printf("failed to save trajectory plot: %v", err)
		} else {
			log.Printf("trajectory plot written to %s", *plotOut)
		}
	}
	log.Printf("Graceful shutdown complete")
}

func serveHTTP(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("debug server listening on %s", addr)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func portLabel(dev bool, port string) string {
	if dev {
		return "disabled"
	}
	return port
}
