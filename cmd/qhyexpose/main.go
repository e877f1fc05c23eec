// qhyexpose takes one or more exposures with a QHY camera and writes them to FITS files
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/imgrec"
	"github.com/nasa-jpl/qhyccd/qhy"
	"github.com/nasa-jpl/qhyccd/qhyusb"
)

var version = "<not set>"

// Args are the command line arguments
type Args struct {
	Model    string        `arg:"-m,--model" help:"camera model, qhy9 or qhy5"`
	Exposure time.Duration `arg:"-e,--exposure" help:"exposure time, e.g. 1.5s or 200ms"`
	Kind     string        `arg:"-k,--kind" help:"frame kind: light, dark, flat or bias"`
	Bin      int           `arg:"-b,--bin" help:"binning factor, 1 to 4"`
	Count    int           `arg:"-n,--count" help:"number of frames to take"`
	Gain     int           `arg:"--gain" help:"analog gain, 0 to 255"`
	Offset   int           `arg:"--offset" help:"analog offset, 0 to 255"`
	Speed    string        `arg:"--speed" help:"download speed: fast, normal or slow"`
	Filter   int           `arg:"-f,--filter" help:"filter slot to select before exposing, 0 leaves the wheel alone"`
	Root     string        `arg:"--root" help:"folder to record numbered frames into"`
	Prefix   string        `arg:"--prefix" help:"filename prefix of recorded frames"`
	Out      string        `arg:"-o,--out" help:"file to write the last frame to"`
	Debug    bool          `arg:"-d,--debug" help:"log register blocks"`
}

// Version satisfies go-arg
func (Args) Version() string {
	return version
}

func procArgs() Args {
	s := qhy.DefaultSettings()
	args := Args{
		Model:    "qhy9",
		Exposure: time.Second,
		Kind:     camera.Light.String(),
		Bin:      1,
		Count:    1,
		Gain:     int(s.Gain),
		Offset:   int(s.Offset),
		Speed:    s.DownloadSpeed.String(),
		Prefix:   "qhy",
	}
	p := arg.MustParse(&args)
	if args.Gain < 0 || args.Gain > 255 {
		p.Fail("--gain must be in [0, 255]")
	}
	if args.Offset < 0 || args.Offset > 255 {
		p.Fail("--offset must be in [0, 255]")
	}
	if args.Count < 1 {
		p.Fail("--count must be at least 1")
	}
	if args.Root == "" && args.Out == "" {
		args.Out = "qhy.fits"
	}
	return args
}

func main() {
	if err := runMain(); err != nil {
		log.Fatal(err)
	}
}

// exposeOne drives a session through one exposure, polling at the interval
// the countdown calls for
func exposeOne(s *qhy.Session, d time.Duration, spinner *yacspin.Spinner) error {
	res, err := s.StartExposure(d)
	if err != nil {
		return err
	}
	if res == qhy.Skipped {
		return errors.New("zero length exposure skipped")
	}
	for {
		state := s.State()
		switch state {
		case qhy.Idle:
			return nil
		case qhy.Aborted:
			return s.LastError()
		}
		left := s.TimeLeft()
		spinner.Message(fmt.Sprintf("%s, %.1fs left", state, left.Seconds()))
		wait := qhy.TickInterval(left)
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		time.Sleep(wait)
		if err := s.OnTick(); err != nil {
			return err
		}
	}
}

func runMain() error {
	args := procArgs()
	profile, err := qhy.LookupProfile(args.Model)
	if err != nil {
		return err
	}
	kind, err := camera.ParseFrameKind(args.Kind)
	if err != nil {
		return err
	}
	speed, err := qhy.ParseDownloadSpeed(args.Speed)
	if err != nil {
		return err
	}
	settings := qhy.DefaultSettings()
	settings.Gain = uint8(args.Gain)
	settings.Offset = uint8(args.Offset)
	settings.DownloadSpeed = speed

	logger := log.New(os.Stderr, "qhy ", log.LstdFlags)
	rec := imgrec.New(imgrec.Config{Root: args.Root, Prefix: args.Prefix, Enabled: args.Root != ""}, logger)
	dev, err := qhyusb.Open(profile)
	if err != nil {
		return err
	}
	defer dev.Close()

	tec := qhy.DefaultThermalConfig()
	tec.ErrorScale = qhy.TECErrorScale
	s, err := qhy.NewSession(profile, dev, qhy.Options{
		Thermal:  tec,
		Logger:   logger,
		Debug:    args.Debug,
		Sink:     rec,
		Frames:   camera.NewFrameSettings(camera.AOI{}, camera.Binning{H: args.Bin, V: args.Bin}, kind),
		Settings: settings,
	})
	if err != nil {
		return err
	}
	defer s.Disconnect()

	if args.Filter != 0 {
		fw := s.FilterWheel()
		if fw == nil {
			return fmt.Errorf("%s has no filter wheel", profile.Name)
		}
		if err := fw.Select(args.Filter); err != nil {
			return err
		}
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " exposing",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	for i := 0; i < args.Count; i++ {
		spinner.Suffix(fmt.Sprintf(" %s frame %d of %d", kind, i+1, args.Count))
		if err := spinner.Start(); err != nil {
			return err
		}
		if err := exposeOne(s, args.Exposure, spinner); err != nil {
			spinner.StopFailMessage(err.Error())
			spinner.StopFail()
			return err
		}
		spinner.StopMessage("done")
		spinner.Stop()
	}

	if args.Out != "" {
		f, ok := rec.Last()
		if !ok {
			return errors.New("no frame was delivered")
		}
		fid, err := os.Create(args.Out)
		if err != nil {
			return err
		}
		defer fid.Close()
		if err := camera.WriteFits(fid, f); err != nil {
			return err
		}
		log.Printf("wrote %dx%d %s frame to %s", f.Width, f.Height, kind, args.Out)
	}
	return nil
}
