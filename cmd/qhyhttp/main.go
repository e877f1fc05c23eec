package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/generichttp"
	httpcam "github.com/nasa-jpl/qhyccd/generichttp/camera"
	"github.com/nasa-jpl/qhyccd/generichttp/thermal"
	"github.com/nasa-jpl/qhyccd/imgrec"
	"github.com/nasa-jpl/qhyccd/qhy"
	"github.com/nasa-jpl/qhyccd/qhyusb"
	"github.com/nasa-jpl/qhyccd/server/middleware/locker"
	"github.com/nasa-jpl/qhyccd/telemetry"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "qhy-http.yml"
	k              = koanf.New(".")
)

type cameraConfig struct {
	Gain          int    `koanf:"Gain" yaml:"Gain"`
	Offset        int    `koanf:"Offset" yaml:"Offset"`
	DownloadSpeed string `koanf:"DownloadSpeed" yaml:"DownloadSpeed"`
	Clamp         bool   `koanf:"Clamp" yaml:"Clamp"`
	WindowHeater  int    `koanf:"WindowHeater" yaml:"WindowHeater"`

	// FrameKind is the kind of frame taken until changed over HTTP
	FrameKind string `koanf:"FrameKind" yaml:"FrameKind"`
	BinH      int    `koanf:"BinH" yaml:"BinH"`
	BinV      int    `koanf:"BinV" yaml:"BinV"`

	FilterNames []string `koanf:"FilterNames" yaml:"FilterNames"`
}

type config struct {
	Addr     string            `koanf:"Addr" yaml:"Addr"`
	Root     string            `koanf:"Root" yaml:"Root"`
	Model    string            `koanf:"Model" yaml:"Model"`
	Tick     time.Duration     `koanf:"Tick" yaml:"Tick"`
	Debug    bool              `koanf:"Debug" yaml:"Debug"`
	Camera   cameraConfig      `koanf:"Camera" yaml:"Camera"`
	Thermal  qhy.ThermalConfig `koanf:"Thermal" yaml:"Thermal"`
	Recorder imgrec.Config     `koanf:"Recorder" yaml:"Recorder"`
	MQTT     telemetry.Config  `koanf:"MQTT" yaml:"MQTT"`
}

func defaults() config {
	s := qhy.DefaultSettings()
	tec := qhy.DefaultThermalConfig()
	tec.ErrorScale = qhy.TECErrorScale
	return config{
		Addr:  ":8000",
		Root:  "/",
		Model: "qhy9",
		Tick:  time.Second,
		Camera: cameraConfig{
			Gain:          int(s.Gain),
			Offset:        int(s.Offset),
			DownloadSpeed: s.DownloadSpeed.String(),
			FrameKind:     camera.Light.String(),
			BinH:          1,
			BinV:          1,
		},
		Thermal:  tec,
		Recorder: imgrec.Config{Prefix: "qhy"},
		MQTT:     telemetry.Config{ClientID: "qhy-http", Prefix: "qhy", Period: 5 * time.Second},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

// settings converts the camera section into register settings
func (c cameraConfig) settings() (qhy.Settings, error) {
	s := qhy.Settings{}
	for _, v := range []struct {
		name string
		val  int
		max  int
	}{{"Gain", c.Gain, 255}, {"Offset", c.Offset, 255}, {"WindowHeater", c.WindowHeater, 15}} {
		if v.val < 0 || v.val > v.max {
			return s, fmt.Errorf("Camera.%s %d not in [0, %d]", v.name, v.val, v.max)
		}
	}
	speed, err := qhy.ParseDownloadSpeed(c.DownloadSpeed)
	if err != nil {
		return s, err
	}
	s.Gain = uint8(c.Gain)
	s.Offset = uint8(c.Offset)
	s.DownloadSpeed = speed
	s.Clamp = c.Clamp
	s.WindowHeater = uint8(c.WindowHeater)
	return s, nil
}

func root() {
	str := `qhy-http exposes control of QHY5 and QHY9 CCD cameras over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	qhy-http <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `qhy-http is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Model is one of qhy9 or qhy5.  The camera firmware must already be loaded
(fxload or the udev rules shipped with the vendor driver) before the camera
enumerates with the IDs qhy-http looks for.

Thermal.Policy is pid or bangbang.  The cooler alternates between reading
the thermistor and writing the TEC drive each Thermal.Period; reading and
writing back to back locks up the camera.  Thermal.PWMLimit caps the drive
in percent.  Thermal.ErrorScale defaults to -60, under which a larger drive
cools the sensor; a positive scale drives the TEC when the sensor is colder
than the setpoint and never cools below ambient.  The bangbang policy steps
in that positive sense and is meant for bench testing.

Prometheus metrics for the CCD temperature, setpoint, TEC drive and exposure
state are served at /metrics.  When MQTT.Broker is set (e.g. tcp://localhost:1883),
frame and failure events and a retained status message are published under MQTT.Prefix.

If the files and folders created do not have the permissions you want on linux,
your umask is likely to blame.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("qhy-http version %v\n", Version)
}

// countingSink counts frames and failures on their way to the next sink
type countingSink struct {
	next     camera.ImageSink
	frames   prometheus.Counter
	failures prometheus.Counter
}

func (c countingSink) DeliverImage(f camera.Frame) error {
	c.frames.Inc()
	return c.next.DeliverImage(f)
}

func (c countingSink) ExposureFailed(err error) {
	c.failures.Inc()
	if fr, ok := c.next.(camera.FailureReporter); ok {
		fr.ExposureFailed(err)
	}
}

func registerMetrics(s *qhy.Session) (prometheus.Counter, prometheus.Counter) {
	gauge := func(name, help string, fcn func() float64) {
		err := prometheus.Register(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Subsystem: "qhy", Name: name, Help: help}, fcn))
		if err != nil {
			log.Printf("error registering gauge %s: %v", name, err)
		}
	}
	gauge("ccd_temp_celsius", "CCD temperature from the DC201 thermistor.", func() float64 {
		v, _ := s.GetTemp()
		return v
	})
	gauge("ccd_setpoint_celsius", "Cooler temperature setpoint.", func() float64 {
		v, _ := s.GetTempSetpoint()
		return v
	})
	gauge("tec_power_percent", "TEC drive as a percentage of full scale.", func() float64 {
		st, _ := s.TemperatureStatus()
		return st.PWMPercent
	})
	gauge("exposure_state", "Exposure state machine; 0 idle, 1 armed, 2 exposing, 3 shutter closing, 4 reading, 5 delivering, 6 aborted.", func() float64 {
		return float64(s.State())
	})
	gauge("exposure_time_left_seconds", "Integration time remaining in the current exposure.", func() float64 {
		return s.TimeLeft().Seconds()
	})
	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "qhy", Name: "frames_total", Help: "Frames delivered."})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "qhy", Name: "exposure_failures_total", Help: "Exposures that did not produce a frame."})
	prometheus.MustRegister(frames, failures)
	return frames, failures
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	logger := log.New(os.Stderr, "qhy ", log.LstdFlags)
	profile, err := qhy.LookupProfile(cfg.Model)
	if err != nil {
		log.Fatal(err)
	}
	settings, err := cfg.Camera.settings()
	if err != nil {
		log.Fatal(err)
	}
	kind, err := camera.ParseFrameKind(cfg.Camera.FrameKind)
	if err != nil {
		log.Fatal(err)
	}
	frames := camera.NewFrameSettings(camera.AOI{}, camera.Binning{H: cfg.Camera.BinH, V: cfg.Camera.BinV}, kind)

	dev, err := qhyusb.Open(profile)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()
	if desc, err := dev.Describe(); err == nil {
		log.Printf("connected to %s (%s)", profile.Name, desc)
	}

	rec := imgrec.New(cfg.Recorder, logger)
	var next camera.ImageSink = rec
	var pub telemetry.Publisher
	if cfg.MQTT.Broker != "" {
		client, err := telemetry.Connect(cfg.MQTT)
		if err != nil {
			log.Fatal(err)
		}
		defer client.Disconnect(250)
		pub = client
		next = telemetry.NewSink(rec, pub, cfg.MQTT.Prefix, logger)
		log.Printf("publishing telemetry to %s under %s", cfg.MQTT.Broker, cfg.MQTT.Prefix)
	}
	runner := qhy.NewRunner(cfg.Tick, logger)
	sink := countingSink{next: next}
	s, err := qhy.NewSession(profile, dev, qhy.Options{
		Scheduler:   runner,
		Logger:      logger,
		Debug:       cfg.Debug,
		Sink:        &sink,
		Frames:      frames,
		Settings:    settings,
		Thermal:     cfg.Thermal,
		FilterNames: cfg.Camera.FilterNames,
	})
	if err != nil {
		log.Fatal(err)
	}
	sink.frames, sink.failures = registerMetrics(s)
	runner.Attach(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)
	if pub != nil {
		go telemetry.PublishStatus(ctx, s, pub, cfg.MQTT.Prefix, cfg.MQTT.Period)
	}

	w := httpcam.NewHTTPCamera(s, frames, rec)
	rt := w.RT()
	if profile.Capabilities.Cooler {
		thermal.HTTPController(s, rt)
		thermal.HTTPTEC(s, rt)
	}
	lock := locker.New()
	locker.Inject(rt, lock)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Handle("/metrics", promhttp.Handler())
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	rt.Bind(mux)
	root.Mount(hndlrS, mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: root}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("shutting down, turning the cooler off")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()
	log.Println("now listening for requests at ", cfg.Addr+hndlrS)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println(err)
	}
	cancel()
	if err := s.Disconnect(); err != nil {
		log.Println(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
