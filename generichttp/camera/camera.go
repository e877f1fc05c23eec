// Package camera provides an HTTP interface to a QHY camera session
package camera

import (
	"encoding/json"
	"fmt"
	"image/jpeg"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/generichttp"
	"github.com/nasa-jpl/qhyccd/imgrec"
	"github.com/nasa-jpl/qhyccd/qhy"
	"github.com/nasa-jpl/qhyccd/util"
)

// Status is the reply of GET /status
type Status struct {
	State     string  `json:"state"`
	TimeLeft  float64 `json:"timeLeft"`
	LastError string  `json:"lastError,omitempty"`
	Connected bool    `json:"connected"`
}

// HTTPCamera binds a session, its frame settings and its recorder to HTTP routes
type HTTPCamera struct {
	s      *qhy.Session
	frames *camera.FrameSettings
	rec    *imgrec.Recorder

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper.  rec may be nil, in which case
// the autowrite and last-frame routes are not bound.
func NewHTTPCamera(s *qhy.Session, frames *camera.FrameSettings, rec *imgrec.Recorder) HTTPCamera {
	h := HTTPCamera{s: s, frames: frames, rec: rec}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/exposure-time"}:  GetExposureTime(s),
		{Method: http.MethodPost, Path: "/exposure-time"}: SetExposureTime(s),
		{Method: http.MethodPost, Path: "/expose"}:        h.Expose,
		{Method: http.MethodPost, Path: "/abort"}:         h.Abort,
		{Method: http.MethodGet, Path: "/status"}:         h.Status,
		{Method: http.MethodGet, Path: "/resolution"}:     h.Resolution,

		{Method: http.MethodGet, Path: "/binning"}:     h.GetBinning,
		{Method: http.MethodPost, Path: "/binning"}:    h.SetBinning,
		{Method: http.MethodGet, Path: "/aoi"}:         h.GetAOI,
		{Method: http.MethodPost, Path: "/aoi"}:        h.SetAOI,
		{Method: http.MethodGet, Path: "/frame-kind"}:  generichttp.GetString(func() (string, error) { return frames.FrameKind().String(), nil }),
		{Method: http.MethodPost, Path: "/frame-kind"}: generichttp.SetString(h.setFrameKind),

		{Method: http.MethodGet, Path: "/gain"}:            generichttp.GetInt(func() (int, error) { return int(s.Settings().Gain), nil }),
		{Method: http.MethodPost, Path: "/gain"}:           generichttp.SetInt(h.setGain),
		{Method: http.MethodGet, Path: "/offset"}:          generichttp.GetInt(func() (int, error) { return int(s.Settings().Offset), nil }),
		{Method: http.MethodPost, Path: "/offset"}:         generichttp.SetInt(h.setOffset),
		{Method: http.MethodGet, Path: "/download-speed"}:  generichttp.GetString(func() (string, error) { return s.Settings().DownloadSpeed.String(), nil }),
		{Method: http.MethodPost, Path: "/download-speed"}: generichttp.SetString(h.setSpeed),
		{Method: http.MethodGet, Path: "/clamp"}:           generichttp.GetBool(func() (bool, error) { return s.Settings().Clamp, nil }),
		{Method: http.MethodPost, Path: "/clamp"}:          generichttp.SetBool(func(b bool) error { s.SetClamp(b); return nil }),
	}
	if s.Profile().Capabilities.FilterWheel {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/filter"}] = h.GetFilter
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/filter"}] = generichttp.SetInt(h.selectFilter)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/filter-names"}] = h.GetFilterNames
	}
	if rec != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/last-frame"}] = h.LastFrame
		rec.Inject(rt)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// parseDuration parses an exposureTime query parameter.  Bare numbers are seconds.
func parseDuration(texp string) (time.Duration, error) {
	if util.AllElementsNumbers(texp) {
		texp = texp + "s"
	}
	return time.ParseDuration(texp)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(m camera.Minimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			d, err = parseDuration(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = m.SetExposureTime(d)
		if err != nil {
			generichttp.ReplyError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time on a GET request, in seconds
func GetExposureTime(m camera.Minimal) http.HandlerFunc {
	return generichttp.GetFloat(func() (float64, error) {
		d, err := m.GetExposureTime()
		return d.Seconds(), err
	})
}

// Expose starts an exposure.  The exposure time may be given as an
// exposureTime query parameter; otherwise the stored exposure time is used.
// The reply is {"str": "started"} or {"str": "skipped"}.
func (h HTTPCamera) Expose(w http.ResponseWriter, r *http.Request) {
	d, err := h.s.GetExposureTime()
	if texp := r.URL.Query().Get("exposureTime"); texp != "" {
		d, err = parseDuration(texp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = h.s.SetExposureTime(d)
	}
	if err != nil {
		generichttp.ReplyError(w, err)
		return
	}
	res, err := h.s.StartExposure(d)
	if err != nil {
		generichttp.ReplyError(w, err)
		return
	}
	generichttp.GetString(func() (string, error) { return res.String(), nil })(w, r)
}

// Abort aborts any exposure in progress
func (h HTTPCamera) Abort(w http.ResponseWriter, r *http.Request) {
	if err := h.s.AbortExposure(); err != nil {
		generichttp.ReplyError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Status replies with the exposure state as JSON
func (h HTTPCamera) Status(w http.ResponseWriter, r *http.Request) {
	st := Status{
		State:     h.s.State().String(),
		TimeLeft:  h.s.TimeLeft().Seconds(),
		Connected: h.s.Connected(),
	}
	if err := h.s.LastError(); err != nil {
		st.LastError = err.Error()
	}
	writeJSON(w, st)
}

// Resolution replies with the unbinned sensor size as {"w": x, "h": y}
func (h HTTPCamera) Resolution(w http.ResponseWriter, r *http.Request) {
	res, err := h.s.GetRes()
	if err != nil {
		generichttp.ReplyError(w, err)
		return
	}
	writeJSON(w, struct {
		W int `json:"w"`
		H int `json:"h"`
	}{res[0], res[1]})
}

// GetBinning replies with the binning as JSON
func (h HTTPCamera) GetBinning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.frames.Binning())
}

// SetBinning sets the binning from a JSON payload {"h": n, "v": n}
func (h HTTPCamera) SetBinning(w http.ResponseWriter, r *http.Request) {
	b := camera.Binning{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.H != b.V {
		generichttp.ReplyError(w, fmt.Errorf("%w: horizontal %d and vertical %d must match", qhy.ErrInvalidBinning, b.H, b.V))
		return
	}
	if _, err = h.s.Profile().Layout(b.H); err != nil {
		generichttp.ReplyError(w, err)
		return
	}
	h.frames.SetBinning(b)
	w.WriteHeader(http.StatusOK)
}

// GetAOI replies with the area of interest as JSON
func (h HTTPCamera) GetAOI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.frames.Subframe())
}

// SetAOI sets the area of interest from a JSON payload.  It is validated
// against the current binning.
func (h HTTPCamera) SetAOI(w http.ResponseWriter, r *http.Request) {
	aoi := camera.AOI{}
	err := json.NewDecoder(r.Body).Decode(&aoi)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err = qhy.ComputeGeometry(h.s.Profile(), h.frames.Binning(), aoi); err != nil {
		generichttp.ReplyError(w, err)
		return
	}
	h.frames.SetSubframe(aoi)
	w.WriteHeader(http.StatusOK)
}

func (h HTTPCamera) setFrameKind(s string) error {
	k, err := camera.ParseFrameKind(s)
	if err != nil {
		return fmt.Errorf("%w: %v", generichttp.ErrInvalidArgument, err)
	}
	h.frames.SetFrameKind(k)
	return nil
}

func byteRange(name string, v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%w: %s %d not in [0, 255]", generichttp.ErrInvalidArgument, name, v)
	}
	return nil
}

func (h HTTPCamera) setGain(v int) error {
	if err := byteRange("gain", v); err != nil {
		return err
	}
	h.s.SetGain(uint8(v))
	return nil
}

func (h HTTPCamera) setOffset(v int) error {
	if err := byteRange("offset", v); err != nil {
		return err
	}
	h.s.SetOffset(uint8(v))
	return nil
}

func (h HTTPCamera) setSpeed(s string) error {
	d, err := qhy.ParseDownloadSpeed(s)
	if err != nil {
		return fmt.Errorf("%w: %v", generichttp.ErrInvalidArgument, err)
	}
	return h.s.SetDownloadSpeed(d)
}

// GetFilter replies with the current 1-based filter slot and its name
func (h HTTPCamera) GetFilter(w http.ResponseWriter, r *http.Request) {
	fw := h.s.FilterWheel()
	if fw == nil {
		generichttp.ReplyError(w, qhy.ErrTransportUnavailable)
		return
	}
	slot := fw.Current()
	writeJSON(w, struct {
		Slot int    `json:"slot"`
		Name string `json:"name"`
	}{slot, fw.Name(slot)})
}

func (h HTTPCamera) selectFilter(slot int) error {
	fw := h.s.FilterWheel()
	if fw == nil {
		return qhy.ErrTransportUnavailable
	}
	return fw.Select(slot)
}

// GetFilterNames replies with the names of every slot as a JSON array
func (h HTTPCamera) GetFilterNames(w http.ResponseWriter, r *http.Request) {
	fw := h.s.FilterWheel()
	if fw == nil {
		generichttp.ReplyError(w, qhy.ErrTransportUnavailable)
		return
	}
	writeJSON(w, fw.Names())
}

// LastFrame returns the most recently delivered frame.
//
// the image format may be specified in a query parameter fmt, one of
// fits, png or jpg; default to fits.  png and jpg are scaled to 8 bits.
func (h HTTPCamera) LastFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := h.rec.Last()
	if !ok {
		http.Error(w, "no frame has been captured", http.StatusNotFound)
		return
	}
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "fits"
	}
	var err error
	switch format {
	case "jpg", "jpeg":
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		err = jpeg.Encode(w, f.Gray8(), nil)
	case "png":
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		err = png.Encode(w, f.Gray8())
	case "fits":
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		w.WriteHeader(http.StatusOK)
		err = camera.WriteFits(w, f)
	default:
		http.Error(w, fmt.Sprintf("format %q not one of fits, png, jpg", format), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("error encoding %s frame: %v", format, err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding %T to json: %v", v, err)
	}
}
