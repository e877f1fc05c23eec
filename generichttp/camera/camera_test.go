package camera

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/generichttp"
	"github.com/nasa-jpl/qhyccd/imgrec"
	"github.com/nasa-jpl/qhyccd/qhy"
)

// nullTransport accepts every transfer and reads zeros
type nullTransport struct {
	mu      sync.Mutex
	vendors []byte
}

func (n *nullTransport) SendVendorCommand(cmd byte, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vendors = append(n.vendors, cmd)
	return nil
}

func (n *nullTransport) ReadBulk(ep byte, buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

func (n *nullTransport) WriteBulk(ep byte, data []byte) (int, error) {
	return len(data), nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	clock *clock
	s     *qhy.Session
	rec   *imgrec.Recorder
	mux   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := qhy.QHY9
	p.ReadoutDelay = [3][4]time.Duration{}
	quiet := log.New(ioutil.Discard, "", 0)
	f := &fixture{
		clock: &clock{now: time.Date(2026, 3, 1, 22, 15, 0, 0, time.UTC)},
		rec:   imgrec.New(imgrec.Config{}, quiet),
	}
	frames := camera.NewFrameSettings(camera.AOI{}, camera.Binning{H: 4, V: 4}, camera.Light)
	s, err := qhy.NewSession(&p, &nullTransport{}, qhy.Options{
		Clock:  f.clock,
		Logger: quiet,
		Sink:   f.rec,
		Frames: frames,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.s = s
	mux := chi.NewRouter()
	NewHTTPCamera(s, frames, f.rec).RT().Bind(mux)
	f.mux = mux
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	f.mux.ServeHTTP(w, r)
	return w
}

func (f *fixture) tick(t *testing.T, d time.Duration) {
	t.Helper()
	f.clock.now = f.clock.now.Add(d)
	if err := f.s.OnTick(); err != nil {
		t.Fatal(err)
	}
}

func TestExposeThenFetchFrame(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/last-frame", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before the first frame, got %d", w.Code)
	}
	w := f.do(http.MethodPost, "/expose?exposureTime=1", "")
	if !strings.Contains(w.Body.String(), `"started"`) {
		t.Fatalf("expected started, got %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/expose", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a second exposure, got %d", w.Code)
	}
	f.tick(t, qhy.QHY9.RegisterSettle)
	f.tick(t, time.Second)

	w = f.do(http.MethodGet, "/status", "")
	var st Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.State != "idle" || !st.Connected {
		t.Errorf("expected a connected idle camera, got %+v", st)
	}

	w = f.do(http.MethodGet, "/last-frame?fmt=png", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("expected a png, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	w = f.do(http.MethodGet, "/last-frame", "")
	if !strings.HasPrefix(w.Body.String(), "SIMPLE") {
		t.Error("expected a FITS file by default")
	}
	if w := f.do(http.MethodGet, "/last-frame?fmt=tiff", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown format, got %d", w.Code)
	}
}

func TestZeroExposureSkipped(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/expose?exposureTime=0", "")
	if !strings.Contains(w.Body.String(), `"skipped"`) {
		t.Errorf("expected skipped, got %s", w.Body.String())
	}
}

func TestExposureTimeJSON(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/exposure-time", `{"f64": 2.5}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	d, _ := f.s.GetExposureTime()
	if d != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %s", d)
	}
	if w := f.do(http.MethodPost, "/exposure-time?exposureTime=25ms", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	d, _ = f.s.GetExposureTime()
	if d != 25*time.Millisecond {
		t.Errorf("expected 25ms, got %s", d)
	}
}

func TestBadArgumentsAreBadRequests(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		path, body string
	}{
		{"/binning", `{"h": 2, "v": 3}`},
		{"/binning", `{"h": 5, "v": 5}`},
		{"/aoi", `{"left": 3000, "top": 0, "width": 2000, "height": 100}`},
		{"/aoi", `{"left": 0, "top": 0, "width": 2, "height": 100}`},
		{"/gain", `{"int": 300}`},
		{"/download-speed", `{"str": "ludicrous"}`},
		{"/frame-kind", `{"str": "twilight"}`},
		{"/filter", `{"int": 9}`},
	}
	for _, c := range cases {
		if w := f.do(http.MethodPost, c.path, c.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", c.path, c.body, w.Code)
		}
	}
}

func TestSettingsApplied(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/gain", `{"int": 40}`)
	f.do(http.MethodPost, "/download-speed", `{"str": "fast"}`)
	f.do(http.MethodPost, "/frame-kind", `{"str": "dark"}`)
	st := f.s.Settings()
	if st.Gain != 40 || st.DownloadSpeed != qhy.Fast {
		t.Errorf("settings not applied: %+v", st)
	}
	w := f.do(http.MethodGet, "/frame-kind", "")
	var s generichttp.StrT
	json.NewDecoder(w.Body).Decode(&s)
	if s.Str != "dark" {
		t.Errorf("expected dark, got %q", s.Str)
	}
}

func TestFilterSelect(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/filter", `{"int": 3}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := f.do(http.MethodGet, "/filter", "")
	if !strings.Contains(w.Body.String(), `"slot":3`) {
		t.Errorf("expected slot 3, got %s", w.Body.String())
	}
}
