// Package thermal exposes an HTTP interface to the camera cooler
package thermal

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/generichttp"
	"github.com/nasa-jpl/qhyccd/qhy"
)

// Controller is an interface to a thermal controller with a single channel
type Controller interface {
	camera.Sci
}

// TEC is a thermoelectric cooler with a drive limit
type TEC interface {
	// TemperatureStatus returns a snapshot of the loop
	TemperatureStatus() (qhy.TemperatureStatus, error)

	// SetPWMLimit sets the maximum drive, in percent
	SetPWMLimit(float64) error
}

// GetTemperatureSetpoint returns the temperature setpoint as JSON over HTTP
func GetTemperatureSetpoint(c Controller) http.HandlerFunc {
	return generichttp.GetFloat(c.GetTempSetpoint)
}

// SetTemperatureSetpoint returns an HTTP handler func that sets the temperature setpoint over HTTP
func SetTemperatureSetpoint(c Controller) http.HandlerFunc {
	return generichttp.SetFloat(c.SetTempSetpoint)
}

// GetTemperature returns an HTTP handler func that returns the temperature over HTTP
func GetTemperature(c Controller) http.HandlerFunc {
	return generichttp.GetFloat(c.GetTemp)
}

// GetStatus returns an HTTP handler func that replies with the full loop state as JSON
func GetStatus(t TEC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := t.TemperatureStatus()
		if err != nil {
			generichttp.ReplyError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(st); err != nil {
			log.Printf("error encoding temperature status to json: %v", err)
		}
	}
}

// HTTPController binds routes to control temperature to the table
func HTTPController(c Controller, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature"}] = GetTemperature(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature-setpoint"}] = GetTemperatureSetpoint(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/temperature-setpoint"}] = SetTemperatureSetpoint(c)
}

// HTTPTEC binds routes for the cooler drive to the table
func HTTPTEC(t TEC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/tec-status"}] = GetStatus(t)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/tec-power"}] = generichttp.GetFloat(func() (float64, error) {
		st, err := t.TemperatureStatus()
		return st.PWMPercent, err
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/tec-limit"}] = generichttp.GetFloat(func() (float64, error) {
		st, err := t.TemperatureStatus()
		return st.LimitPercent, err
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/tec-limit"}] = generichttp.SetFloat(t.SetPWMLimit)
}
