/*Package qhy implements the core of a driver for QHY5 and QHY9 CCD cameras.

A Session owns one camera.  It builds the 64-byte register block for each
exposure, computes the USB transfer geometry, runs the exposure state machine
and, on cooled models, the thermoelectric cooler loop.  The Session never
spawns goroutines of its own; a host calls OnTick periodically and honors the
delays the Session asks for through its Scheduler.  Runner is such a host.
*/
package qhy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/qhyccd/camera"
)

// ExposureState is a state of the exposure state machine
type ExposureState int

const (
	// Idle means no exposure is in progress
	Idle ExposureState = iota

	// Armed means the registers are written and the sensor is settling
	Armed

	// Exposing means the sensor is integrating
	Exposing

	// ShutterClosing means the shutter was told to close and is travelling
	ShutterClosing

	// Reading means the frame is waiting for, or in, transfer
	Reading

	// Delivering means the frame is being handed to the image sink
	Delivering

	// Aborted means the last exposure failed
	Aborted
)

var stateNames = []string{"idle", "armed", "exposing", "shutter-closing", "reading", "delivering", "aborted"}

func (s ExposureState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ExposureState(%d)", int(s))
	}
	return stateNames[s]
}

// StartResult is the non-error outcome of StartExposure
type StartResult int

const (
	// Started means an exposure is in progress
	Started StartResult = iota

	// Skipped means the request was a zero-length non-bias exposure and
	// nothing was sent to the camera
	Skipped
)

func (r StartResult) String() string {
	if r == Skipped {
		return "skipped"
	}
	return "started"
}

// Clock tells the time
type Clock interface {
	Now() time.Time
}

// Scheduler arranges for OnTick to be called after a delay
type Scheduler interface {
	ScheduleTick(time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type noScheduler struct{}

func (noScheduler) ScheduleTick(time.Duration) {}

// Options configure a Session.  Nil collaborators get working defaults,
// except Sink, which must be set before an exposure completes.
type Options struct {
	Clock     Clock
	Scheduler Scheduler
	Logger    *log.Logger

	// Debug logs every register block written to the camera
	Debug bool

	Sink   camera.ImageSink
	Frames camera.FrameSource

	Settings Settings
	Thermal  ThermalConfig

	// FilterNames labels the slots of the filter wheel
	FilterNames []string
}

// TemperatureStatus is a snapshot of the cooler
type TemperatureStatus struct {
	CurrentDegC  float64 `json:"current"`
	SetpointDegC float64 `json:"setpoint"`
	PWMPercent   float64 `json:"pwm"`
	LimitPercent float64 `json:"limit"`
}

// exposure is the in-flight state of one exposure
type exposure struct {
	kind     camera.FrameKind
	duration time.Duration
	geom     FrameGeometry
	armedAt  time.Time
	start    time.Time
	closedAt time.Time
	readyAt  time.Time
}

// Session is an open device session with one camera
type Session struct {
	profile *SensorProfile
	clock   Clock
	sched   Scheduler
	logger  *log.Logger
	debug   bool
	sink    camera.ImageSink
	frames  camera.FrameSource
	names   []string
	tcfg    ThermalConfig

	mu       sync.Mutex
	dev      *device
	settings Settings
	duration time.Duration
	state    ExposureState
	exp      exposure
	lastErr  error

	// abort is set by AbortExposure and observed between patch reads
	abort int32

	thermal *ThermalController
	wheel   *FilterWheel
}

// NewSession returns a session for a camera model, connected through t.
// t may be nil, in which case Connect must be called before exposing.
func NewSession(p *SensorProfile, t Transport, opts Options) (*Session, error) {
	s := &Session{
		profile:  p,
		clock:    opts.Clock,
		sched:    opts.Scheduler,
		logger:   opts.Logger,
		debug:    opts.Debug,
		sink:     opts.Sink,
		frames:   opts.Frames,
		names:    opts.FilterNames,
		tcfg:     opts.Thermal,
		settings: opts.Settings,
		duration: time.Second,
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.sched == nil {
		s.sched = noScheduler{}
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "qhy ", log.LstdFlags)
	}
	if s.frames == nil {
		s.frames = camera.NewFrameSettings(camera.AOI{}, camera.Binning{H: 1, V: 1}, camera.Light)
	}
	if s.settings == (Settings{}) {
		s.settings = DefaultSettings()
	}
	if s.tcfg == (ThermalConfig{}) {
		s.tcfg = DefaultThermalConfig()
	}
	if _, err := s.tcfg.NewPolicy(); err != nil {
		return nil, err
	}
	if t != nil {
		if err := s.Connect(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Profile returns the camera model of the session
func (s *Session) Profile() *SensorProfile {
	return s.profile
}

// Connect binds the session to an open transport.  The cooler and filter
// wheel are created here when the model has them; thermal state starts fresh.
func (s *Session) Connect(t Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &device{t: t, proto: s.profile.Protocol}
	s.dev = d
	s.state = Idle
	s.exp = exposure{}
	s.lastErr = nil
	atomic.StoreInt32(&s.abort, 0)

	s.thermal = nil
	if s.profile.Capabilities.Cooler {
		tc, err := NewThermalController(t, s.profile.Protocol, s.tcfg, s.logger)
		if err != nil {
			return err
		}
		s.thermal = tc
	}
	s.wheel = nil
	if s.profile.Capabilities.FilterWheel {
		s.wheel = newFilterWheel(*d, s.profile.Capabilities.FilterSlots, s.names)
	}
	return nil
}

// Disconnect aborts any exposure, turns the cooler off and releases the
// transport.  The caller remains responsible for closing it.
func (s *Session) Disconnect() error {
	atomic.StoreInt32(&s.abort, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	defer atomic.StoreInt32(&s.abort, 0)
	if s.dev == nil {
		return nil
	}
	var errs []error
	if s.state != Idle && s.state != Aborted {
		if err := s.dev.abortVideo(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.thermal != nil {
		if err := s.thermal.Off(); err != nil {
			errs = append(errs, err)
		}
	}
	s.dev = nil
	s.thermal = nil
	s.wheel = nil
	s.state = Idle
	if len(errs) > 0 {
		return fmt.Errorf("disconnecting %s: %v", s.profile.Name, errs)
	}
	return nil
}

// Connected reports whether the session has a transport
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil
}

// Thermal returns the cooler loop, or nil if the model has no cooler
func (s *Session) Thermal() *ThermalController {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thermal
}

// FilterWheel returns the filter wheel, or nil if the model has none
func (s *Session) FilterWheel() *FilterWheel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wheel
}

// Frames returns the frame configuration the session reads at exposure start
func (s *Session) Frames() camera.FrameSource {
	return s.frames
}

// State returns the state of the exposure state machine
func (s *Session) State() ExposureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that put the machine in Aborted, if any
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// TimeLeft returns the remaining integration time of the exposure in progress
func (s *Session) TimeLeft() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Armed:
		return s.exp.duration
	case Exposing:
		left := s.exp.start.Add(s.exp.duration).Sub(s.clock.Now())
		if left < 0 {
			return 0
		}
		return left
	default:
		return 0
	}
}

// TickInterval is the delay until the next poll of an exposure with left
// remaining.  The countdown gets finer in the final second.
func TickInterval(left time.Duration) time.Duration {
	switch {
	case left > time.Second:
		return time.Second
	case left > 250*time.Millisecond:
		return 250 * time.Millisecond
	case left > 70*time.Millisecond:
		return 50 * time.Millisecond
	case left > 0:
		return left
	default:
		return 0
	}
}

// SetExposureTime sets the duration used by StartExposure when called
// through the camera.Minimal interface
func (s *Session) SetExposureTime(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative exposure time %s", ErrExposureFailed, d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = d
	return nil
}

// GetExposureTime returns the duration set by SetExposureTime
func (s *Session) GetExposureTime() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration, nil
}

// GetRes returns the (W, H) of the sensor in unbinned pixels
func (s *Session) GetRes() ([2]int, error) {
	return [2]int{s.profile.Width, s.profile.Height}, nil
}

// Settings returns a copy of the register settings
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetGain sets the analog gain used from the next exposure
func (s *Session) SetGain(g uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Gain = g
}

// SetOffset sets the analog offset used from the next exposure
func (s *Session) SetOffset(o uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Offset = o
}

// SetDownloadSpeed sets the readout speed used from the next exposure
func (s *Session) SetDownloadSpeed(d DownloadSpeed) error {
	if d > Slow {
		return fmt.Errorf("download speed %d out of range", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DownloadSpeed = d
	return nil
}

// SetClamp enables or disables the CCD clamp
func (s *Session) SetClamp(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Clamp = on
}

// SetHeaters sets the window and motor heater levels
func (s *Session) SetHeaters(window, motor uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.WindowHeater = window & 0x0f
	s.settings.MotorHeating = motor & 0x0f
}

// SetTemperatureTarget sets the cooler setpoint in Celsius
func (s *Session) SetTemperatureTarget(degC float64) error {
	tc := s.Thermal()
	if tc == nil {
		return ErrNoCooler
	}
	tc.SetSetpoint(degC)
	return nil
}

// SetPWMLimit sets the cooler safety limit in percent
func (s *Session) SetPWMLimit(pct float64) error {
	tc := s.Thermal()
	if tc == nil {
		return ErrNoCooler
	}
	tc.SetPWMLimit(pct)
	return nil
}

// TemperatureStatus returns the state of the cooler
func (s *Session) TemperatureStatus() (TemperatureStatus, error) {
	tc := s.Thermal()
	if tc == nil {
		return TemperatureStatus{}, ErrNoCooler
	}
	st := tc.State()
	return TemperatureStatus{
		CurrentDegC:  st.CurrentDegC,
		SetpointDegC: st.SetpointDegC,
		PWMPercent:   st.PWMPercent(),
		LimitPercent: st.PWMLimitPercent,
	}, nil
}

// GetTempSetpoint implements camera.Sci
func (s *Session) GetTempSetpoint() (float64, error) {
	st, err := s.TemperatureStatus()
	return st.SetpointDegC, err
}

// SetTempSetpoint implements camera.Sci
func (s *Session) SetTempSetpoint(degC float64) error {
	return s.SetTemperatureTarget(degC)
}

// GetTemp implements camera.Sci
func (s *Session) GetTemp() (float64, error) {
	st, err := s.TemperatureStatus()
	return st.CurrentDegC, err
}

// StartExposure begins an exposure of duration d with the frame
// configuration read from the session's FrameSource.  A zero duration for
// anything but a bias frame is skipped without touching the camera.
func (s *Session) StartExposure(d time.Duration) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return Started, ErrTransportUnavailable
	}
	if s.state != Idle && s.state != Aborted {
		return Started, fmt.Errorf("%w: camera is %s", ErrAlreadyExposing, s.state)
	}
	if d < 0 {
		return Started, fmt.Errorf("%w: negative exposure time %s", ErrExposureFailed, d)
	}

	kind := s.frames.FrameKind()
	if kind != camera.Bias && d == 0 {
		return Skipped, nil
	}
	d = d.Truncate(time.Millisecond)
	if d < MinimumExposure || kind == camera.Bias {
		d = MinimumExposure
	}

	geom, err := ComputeGeometry(s.profile, s.frames.Binning(), s.frames.Subframe())
	if err != nil {
		return Started, err
	}
	regs := buildRegisters(s.profile, s.settings, geom, kind, d)
	block := Encode(regs)
	if s.debug {
		s.logger.Printf("%s registers, %s bin %d, geometry %+v\n%s", s.profile.Name, kind, geom.Bin, geom, block.Dump())
	}

	atomic.StoreInt32(&s.abort, 0)
	s.lastErr = nil
	now := s.clock.Now()
	s.exp = exposure{kind: kind, duration: d, geom: geom, armedAt: now}
	s.state = Armed
	if err := s.dev.writeRegisters(block); err != nil {
		s.failLocked(fmt.Errorf("%w: writing registers: %v", ErrExposureFailed, err))
		return Started, s.lastErr
	}
	if s.profile.RegisterSettle <= 0 {
		if err := s.beginLocked(now); err != nil {
			return Started, err
		}
		s.sched.ScheduleTick(TickInterval(d))
		return Started, nil
	}
	s.sched.ScheduleTick(s.profile.RegisterSettle)
	return Started, nil
}

// beginLocked starts integration on the sensor
func (s *Session) beginLocked(now time.Time) error {
	if err := s.dev.beginVideo(); err != nil {
		s.failLocked(fmt.Errorf("%w: begin video: %v", ErrExposureFailed, err))
		return s.lastErr
	}
	s.exp.start = now
	s.state = Exposing
	return nil
}

// failLocked moves the machine to Aborted and tells the sink
func (s *Session) failLocked(err error) {
	s.state = Aborted
	s.lastErr = err
	s.logger.Printf("%s exposure failed: %v", s.profile.Name, err)
	if fr, ok := s.sink.(camera.FailureReporter); ok {
		fr.ExposureFailed(err)
	}
}

// AbortExposure stops the exposure in progress.  It is safe to call in any
// state, including while a frame is being read out, and always leaves the
// machine Idle.
func (s *Session) AbortExposure() error {
	atomic.StoreInt32(&s.abort, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	defer atomic.StoreInt32(&s.abort, 0)
	switch s.state {
	case Idle:
		return nil
	case Aborted:
		s.state = Idle
		return nil
	}
	var err error
	if s.dev != nil {
		err = s.dev.abortVideo()
		if s.profile.Capabilities.Shutter && s.exp.kind.NeedsShutterClosed() {
			if err2 := s.dev.setShutter(ShutterFree); err == nil {
				err = err2
			}
		}
	}
	s.state = Idle
	s.exp = exposure{}
	s.logger.Printf("%s exposure aborted", s.profile.Name)
	return err
}

// OnTick advances the exposure state machine and then, when due, runs one
// phase of the cooler loop.  It returns the error of an exposure that
// failed during this tick.
func (s *Session) OnTick() error {
	err := s.pollExposure()
	if tc := s.Thermal(); tc != nil {
		now := s.clock.Now()
		if tc.Due(now) {
			tc.Step(now)
		}
	}
	return err
}

// pollExposure advances the machine under the lock.  A finished frame is
// handed to the sink after the lock is released, so status queries are not
// held up by a slow sink.
func (s *Session) pollExposure() error {
	frame, err := s.advanceExposure()
	if err != nil || frame == nil {
		return err
	}
	var derr error
	if s.sink != nil {
		if err := s.sink.DeliverImage(*frame); err != nil {
			derr = fmt.Errorf("delivering image: %w", err)
		}
	}
	s.mu.Lock()
	if s.state == Delivering {
		s.state = Idle
	}
	s.mu.Unlock()
	return derr
}

func (s *Session) advanceExposure() (*camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil, nil
	}
	now := s.clock.Now()
	switch s.state {
	case Armed:
		ready := s.exp.armedAt.Add(s.profile.RegisterSettle)
		if now.Before(ready) {
			s.sched.ScheduleTick(ready.Sub(now))
			return nil, nil
		}
		if err := s.beginLocked(now); err != nil {
			return nil, err
		}
		s.sched.ScheduleTick(TickInterval(s.exp.duration))
		return nil, nil
	case Exposing:
		left := s.exp.start.Add(s.exp.duration).Sub(now)
		if left > 0 {
			s.sched.ScheduleTick(TickInterval(left))
			return nil, nil
		}
		s.exp.readyAt = s.exp.start.Add(s.exp.duration + s.profile.Readout(s.settings.speed(s.profile), s.exp.geom.Bin))
		if s.exp.kind.NeedsShutterClosed() && s.profile.Capabilities.Shutter {
			if err := s.dev.setShutter(ShutterClose); err != nil {
				s.failLocked(fmt.Errorf("%w: closing shutter: %v", ErrExposureFailed, err))
				return nil, s.lastErr
			}
			s.exp.closedAt = now
			s.state = ShutterClosing
			s.sched.ScheduleTick(s.profile.ShutterSettle)
			return nil, nil
		}
		s.state = Reading
		return s.readLocked(now)
	case ShutterClosing:
		settled := s.exp.closedAt.Add(s.profile.ShutterSettle)
		if now.Before(settled) {
			s.sched.ScheduleTick(settled.Sub(now))
			return nil, nil
		}
		s.state = Reading
		return s.readLocked(now)
	case Reading:
		return s.readLocked(now)
	}
	return nil, nil
}

// readLocked pulls the frame once the sensor has had time to transfer it
func (s *Session) readLocked(now time.Time) (*camera.Frame, error) {
	if now.Before(s.exp.readyAt) {
		s.sched.ScheduleTick(TickInterval(s.exp.readyAt.Sub(now)))
		return nil, nil
	}
	g := s.exp.geom
	buf := make([]byte, g.TransferBytes())
	err := s.dev.readPatches(buf, g.PatchSize, g.PatchCount, &s.abort)
	if errors.Is(err, ErrAborted) {
		if err2 := s.dev.abortVideo(); err2 != nil {
			s.logger.Printf("%s abort video: %v", s.profile.Name, err2)
		}
		s.state = Idle
		s.exp = exposure{}
		return nil, nil
	}
	if err != nil {
		if s.profile.Capabilities.Shutter {
			if err2 := s.dev.setShutter(ShutterFree); err2 != nil {
				s.logger.Printf("%s releasing shutter: %v", s.profile.Name, err2)
			}
		}
		s.failLocked(err)
		return nil, err
	}

	s.state = Delivering
	pix, w, h := reproject(buf, g)
	if s.profile.Capabilities.Shutter {
		if err := s.dev.setShutter(ShutterFree); err != nil {
			s.logger.Printf("%s releasing shutter: %v", s.profile.Name, err)
		}
	}
	frame := camera.Frame{
		Pix:      pix,
		Width:    w,
		Height:   h,
		Start:    s.exp.start,
		Exposure: s.exp.duration,
		Kind:     s.exp.kind,
		Metadata: s.headerCardsLocked(),
	}
	s.exp = exposure{}
	return &frame, nil
}

// reproject copies the subframe out of the raw readout.  The readout is
// little endian 16-bit pixels in rows of g.LineSize, after g.TopSkipPixels
// dummy pixels, with the rows above the subframe already skipped by the camera.
func reproject(buf []byte, g FrameGeometry) ([]uint16, int, int) {
	w, h := g.OutputSize()
	x0 := g.Sub.Left / g.Bin
	if x0+w > g.LineSize {
		w = g.LineSize - x0
	}
	if h > g.VerticalSize {
		h = g.VerticalSize
	}
	out := make([]uint16, w*h)
	for iy := 0; iy < h; iy++ {
		src := (g.TopSkipPixels + iy*g.LineSize + x0) * 2
		dst := out[iy*w : (iy+1)*w]
		for ix := range dst {
			dst[ix] = binary.LittleEndian.Uint16(buf[src+2*ix:])
		}
	}
	return out, w, h
}
