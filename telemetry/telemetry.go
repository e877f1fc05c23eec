/*Package telemetry publishes camera events to an MQTT broker.

A Sink sits in front of another camera.ImageSink and publishes a small JSON
summary of every delivered frame and every failed exposure.  A Status
publisher pushes the cooler state on a fixed period.  Topics are

	<prefix>/frame
	<prefix>/failure
	<prefix>/status

Pixels are never published; clients fetch frames over HTTP.
*/
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/qhy"
)

// Config configures the MQTT connection.  An empty Broker disables telemetry.
type Config struct {
	Broker   string        `koanf:"Broker" yaml:"Broker"`
	ClientID string        `koanf:"ClientID" yaml:"ClientID"`
	Prefix   string        `koanf:"Prefix" yaml:"Prefix"`
	Period   time.Duration `koanf:"Period" yaml:"Period"`
}

// Publisher is the part of mqtt.Client used here
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect dials the broker
func Connect(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, token.Error())
	}
	return c, nil
}

// FrameEvent summarizes a delivered frame
type FrameEvent struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Kind     string    `json:"kind"`
	Exposure float64   `json:"exposure"`
	Start    time.Time `json:"start"`
}

// FailureEvent reports an exposure that produced no frame
type FailureEvent struct {
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

func publishJSON(p Publisher, topic string, obj interface{}) error {
	msg, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	p.Publish(topic, 1, false, msg)
	return nil
}

// Sink publishes an event for each frame before handing it to Next
type Sink struct {
	Next   camera.ImageSink
	Pub    Publisher
	Prefix string
	Logger *log.Logger
	now    func() time.Time
}

// NewSink returns a sink publishing under prefix
func NewSink(next camera.ImageSink, pub Publisher, prefix string, logger *log.Logger) *Sink {
	return &Sink{Next: next, Pub: pub, Prefix: prefix, Logger: logger, now: time.Now}
}

// DeliverImage implements camera.ImageSink
func (s *Sink) DeliverImage(f camera.Frame) error {
	ev := FrameEvent{
		Width:    f.Width,
		Height:   f.Height,
		Kind:     f.Kind.String(),
		Exposure: f.Exposure.Seconds(),
		Start:    f.Start.UTC(),
	}
	if err := publishJSON(s.Pub, s.Prefix+"/frame", ev); err != nil && s.Logger != nil {
		s.Logger.Printf("error publishing frame event: %v", err)
	}
	return s.Next.DeliverImage(f)
}

// ExposureFailed implements camera.FailureReporter
func (s *Sink) ExposureFailed(err error) {
	ev := FailureEvent{Error: err.Error(), Time: s.now().UTC()}
	if perr := publishJSON(s.Pub, s.Prefix+"/failure", ev); perr != nil && s.Logger != nil {
		s.Logger.Printf("error publishing failure event: %v", perr)
	}
	if fr, ok := s.Next.(camera.FailureReporter); ok {
		fr.ExposureFailed(err)
	}
}

// StatusSource is something that can report the cooler and exposure state
type StatusSource interface {
	TemperatureStatus() (qhy.TemperatureStatus, error)
	State() qhy.ExposureState
	TimeLeft() time.Duration
}

// StatusEvent is the periodic status message
type StatusEvent struct {
	State    string                 `json:"state"`
	TimeLeft float64                `json:"timeLeft"`
	Cooler   *qhy.TemperatureStatus `json:"cooler,omitempty"`
}

// Status builds a status event from src
func Status(src StatusSource) StatusEvent {
	ev := StatusEvent{State: src.State().String(), TimeLeft: src.TimeLeft().Seconds()}
	if st, err := src.TemperatureStatus(); err == nil {
		ev.Cooler = &st
	}
	return ev
}

// PublishStatus publishes a status event every period until ctx is done.
// The status topic is retained so new subscribers see the latest state.
func PublishStatus(ctx context.Context, src StatusSource, pub Publisher, prefix string, period time.Duration) {
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg, err := json.Marshal(Status(src))
			if err != nil {
				continue
			}
			pub.Publish(prefix+"/status", 0, true, msg)
		}
	}
}
