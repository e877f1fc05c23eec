package qhy

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/qhyccd/util"
)

// fanSpeed is the fixed fan byte written alongside every PWM update
const fanSpeed = 255

// ThermalState is the long-lived state of the cooler loop
type ThermalState struct {
	SetpointDegC float64 `json:"setpoint"`
	CurrentDegC  float64 `json:"current"`

	// PWM is the TEC drive, 0..255
	PWM int `json:"pwm"`

	// PWMLimitPercent is the safety limit on PWM, 0..100
	PWMLimitPercent float64 `json:"pwmLimit"`

	Integral      float64 `json:"integral"`
	PreviousError float64 `json:"previousError"`
}

// PWMPercent is the TEC drive as a percentage of full scale
func (s ThermalState) PWMPercent() float64 {
	return float64(s.PWM) * 100 / 255
}

// ControlPolicy computes the next PWM value from the current state.
// It may update the integral and previous error fields of s.
type ControlPolicy interface {
	Update(s *ThermalState) int
}

// PID is a proportional-integral-derivative control law with anti-windup.
// The error is (setpoint - current) / ErrorScale.
type PID struct {
	Kp, Ki, Kd float64

	// ErrorScale normalizes the error in degrees to the PWM full scale.
	// A positive value drives the TEC harder when the sensor is colder than
	// the setpoint; a negative value inverts the sense.
	ErrorScale float64

	// IntegralLimit bounds the integral term to [-IntegralLimit, IntegralLimit]
	IntegralLimit float64
}

// TECErrorScale is the PID error scale of the QHY9 TEC, whose PWM byte is
// written straight through as drive: a sensor warmer than the setpoint
// raises the drive and a setpoint above ambient leaves the TEC off.
const TECErrorScale = -60

// DefaultPID returns the gains the QHY9 was tuned with
func DefaultPID() PID {
	return PID{Kp: 1.6, Ki: 0.2, Kd: 0, ErrorScale: 60, IntegralLimit: 3}
}

// Update implements ControlPolicy
func (p PID) Update(s *ThermalState) int {
	scale := p.ErrorScale
	if scale == 0 {
		scale = 60
	}
	err := (s.SetpointDegC - s.CurrentDegC) / scale
	deriv := err - s.PreviousError
	s.PreviousError = err
	s.Integral = util.Clamp(s.Integral+err, -p.IntegralLimit, p.IntegralLimit)

	pwm := util.Clamp(255*(p.Kp*err+p.Ki*s.Integral+p.Kd*deriv), 0, 255)
	limit := int(s.PWMLimitPercent / 100 * 255)
	return util.ClampInt(int(pwm), 0, limit)
}

// BangBang nudges PWM by a coarse or fine step depending on the magnitude
// of the error, and holds it inside the deadband
type BangBang struct {
	CoarseThreshold, CoarseStep float64
	FineThreshold, FineStep     float64
}

// DefaultBangBang returns the stepwise controller of early firmware revisions
func DefaultBangBang() BangBang {
	return BangBang{CoarseThreshold: 5, CoarseStep: 5, FineThreshold: 0.7, FineStep: 1}
}

// Update implements ControlPolicy
func (b BangBang) Update(s *ThermalState) int {
	err := s.SetpointDegC - s.CurrentDegC
	s.PreviousError = err
	pwm := float64(s.PWM)
	switch {
	case err > b.CoarseThreshold:
		pwm += b.CoarseStep
	case err < -b.CoarseThreshold:
		pwm -= b.CoarseStep
	case err > b.FineThreshold:
		pwm += b.FineStep
	case err < -b.FineThreshold:
		pwm -= b.FineStep
	}
	limit := s.PWMLimitPercent * 256 / 100
	if limit > 255 {
		limit = 255
	}
	return int(util.Clamp(pwm, 0, limit))
}

// ThermalConfig configures the cooler loop
type ThermalConfig struct {
	// Policy is one of pid, bangbang
	Policy string `json:"policy" koanf:"Policy" yaml:"Policy"`

	// SetpointDegC is the initial target temperature
	SetpointDegC float64 `json:"setpoint" koanf:"Setpoint" yaml:"Setpoint"`

	// PWMLimitPercent is the initial TEC limit
	PWMLimitPercent float64 `json:"pwmLimit" koanf:"PWMLimit" yaml:"PWMLimit"`

	// Period is the time between two phases of the loop
	Period time.Duration `json:"period" koanf:"Period" yaml:"Period"`

	// PID gains, used when Policy is pid
	Kp         float64 `json:"kp" koanf:"Kp" yaml:"Kp"`
	Ki         float64 `json:"ki" koanf:"Ki" yaml:"Ki"`
	Kd         float64 `json:"kd" koanf:"Kd" yaml:"Kd"`
	ErrorScale float64 `json:"errorScale" koanf:"ErrorScale" yaml:"ErrorScale"`
}

// DefaultThermalConfig returns the power-on values of the QHY9
func DefaultThermalConfig() ThermalConfig {
	return ThermalConfig{
		Policy:          "pid",
		SetpointDegC:    50,
		PWMLimitPercent: 80,
		Period:          time.Second,
		Kp:              1.6,
		Ki:              0.2,
		ErrorScale:      60,
	}
}

// NewPolicy builds the control policy named in the config
func (c ThermalConfig) NewPolicy() (ControlPolicy, error) {
	switch strings.ToLower(c.Policy) {
	case "", "pid":
		pid := DefaultPID()
		if c.Kp != 0 || c.Ki != 0 || c.Kd != 0 {
			pid.Kp, pid.Ki, pid.Kd = c.Kp, c.Ki, c.Kd
		}
		if c.ErrorScale != 0 {
			pid.ErrorScale = c.ErrorScale
		}
		return pid, nil
	case "bangbang", "bang-bang":
		return DefaultBangBang(), nil
	default:
		return nil, fmt.Errorf("unknown thermal control policy %q, must be pid or bangbang", c.Policy)
	}
}

// ThermalController alternates between sampling the thermistor and writing
// the TEC drive.  Back-to-back read and write of the DC201 locks the camera,
// so each phase is one call to Step.
type ThermalController struct {
	mu     sync.Mutex
	dev    device
	policy ControlPolicy
	state  ThermalState
	period time.Duration

	// sample is true when the next phase reads the thermistor
	sample bool
	last   time.Time

	logLimit *rate.Limiter
	logger   *log.Logger
}

// NewThermalController returns a loop driving the cooler through t
func NewThermalController(t Transport, proto Protocol, cfg ThermalConfig, logger *log.Logger) (*ThermalController, error) {
	policy, err := cfg.NewPolicy()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "qhy ", log.LstdFlags)
	}
	period := cfg.Period
	if period <= 0 {
		period = time.Second
	}
	return &ThermalController{
		dev:    device{t: t, proto: proto},
		policy: policy,
		state: ThermalState{
			SetpointDegC:    util.Clamp(cfg.SetpointDegC, -50, 50),
			PWMLimitPercent: util.Clamp(cfg.PWMLimitPercent, 0, 100),
		},
		period:   period,
		sample:   true,
		logLimit: rate.NewLimiter(rate.Every(10*time.Second), 1),
		logger:   logger,
	}, nil
}

// Due reports whether a phase should run at now
func (c *ThermalController) Due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.IsZero() || now.Sub(c.last) >= c.period
}

// Step runs one phase of the loop.  Transport errors are logged, not returned.
func (c *ThermalController) Step(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = now
	if c.sample {
		c.sample = false
		raw, err := c.dev.readDC201()
		if err != nil {
			c.logFailure("read thermistor", err)
			return
		}
		c.state.CurrentDegC = MillivoltsToCelsius(RawToMillivolts(raw))
		c.state.PWM = c.policy.Update(&c.state)
		return
	}
	c.sample = true
	if err := c.dev.writeDC201(byte(c.state.PWM), fanSpeed); err != nil {
		c.logFailure("write TEC drive", err)
	}
}

// Off drives the TEC to zero immediately
func (c *ThermalController) Off() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PWM = 0
	c.state.Integral = 0
	return c.dev.writeDC201(0, fanSpeed)
}

func (c *ThermalController) logFailure(op string, err error) {
	if c.logLimit.Allow() {
		c.logger.Printf("thermal loop: %s: %v", op, err)
	}
}

// SetSetpoint changes the target temperature, clamped to [-50, 50] C
func (c *ThermalController) SetSetpoint(degC float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SetpointDegC = util.Clamp(degC, -50, 50)
}

// SetPWMLimit changes the TEC safety limit, clamped to [0, 100] percent
func (c *ThermalController) SetPWMLimit(pct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PWMLimitPercent = util.Clamp(pct, 0, 100)
	limit := int(c.state.PWMLimitPercent / 100 * 255)
	if c.state.PWM > limit {
		c.state.PWM = limit
	}
}

// State returns a copy of the loop state
func (c *ThermalController) State() ThermalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset clears the accumulated state, keeping setpoint and limit
func (c *ThermalController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ThermalState{SetpointDegC: c.state.SetpointDegC, PWMLimitPercent: c.state.PWMLimitPercent}
	c.sample = true
	c.last = time.Time{}
}
