package imgrec

import (
	"bytes"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/generichttp"
)

func frame() camera.Frame {
	return camera.Frame{Pix: make([]uint16, 16), Width: 4, Height: 4, Kind: camera.Light}
}

func newTestRecorder(t *testing.T, enabled bool) (*Recorder, string) {
	dir := t.TempDir()
	r := New(Config{Root: dir, Prefix: "qhy", Enabled: enabled}, nil)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 22, 15, 0, 0, time.UTC) }
	return r, dir
}

func TestDeliverWritesNumberedFits(t *testing.T) {
	r, dir := newTestRecorder(t, true)
	for i := 0; i < 2; i++ {
		if err := r.DeliverImage(frame()); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"qhy000001.fits", "qhy000002.fits"} {
		b, err := ioutil.ReadFile(filepath.Join(dir, "2026-03-01", name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(b, []byte("SIMPLE")) {
			t.Errorf("%s is not a FITS file", name)
		}
	}
}

func TestDisabledKeepsLastOnly(t *testing.T) {
	r, dir := newTestRecorder(t, false)
	if _, ok := r.Last(); ok {
		t.Fatal("expected no last frame before delivery")
	}
	if err := r.DeliverImage(frame()); err != nil {
		t.Fatal(err)
	}
	if f, ok := r.Last(); !ok || f.Width != 4 {
		t.Errorf("expected the delivered frame, got %+v", f)
	}
	entries, _ := ioutil.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected nothing on disk, found %d entries", len(entries))
	}
}

func TestFailureClearedByDelivery(t *testing.T) {
	r, _ := newTestRecorder(t, false)
	boom := errors.New("short read")
	r.ExposureFailed(boom)
	if r.LastError() != boom {
		t.Errorf("expected %v, got %v", boom, r.LastError())
	}
	r.DeliverImage(frame())
	if r.LastError() != nil {
		t.Errorf("expected the error to clear, got %v", r.LastError())
	}
}

func TestSetPrefixRestartsCounter(t *testing.T) {
	r, dir := newTestRecorder(t, true)
	r.DeliverImage(frame())
	r.SetPrefix("dark")
	r.DeliverImage(frame())
	if _, err := ioutil.ReadFile(filepath.Join(dir, "2026-03-01", "dark000001.fits")); err != nil {
		t.Error(err)
	}
}

func TestInjectRoutes(t *testing.T) {
	r, _ := newTestRecorder(t, false)
	rt := generichttp.RouteTable{}
	r.Inject(rt)
	mux := chi.NewRouter()
	rt.Bind(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/autowrite/enabled", strings.NewReader(`{"bool": true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !r.Enabled() {
		t.Error("expected the recorder to be enabled")
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/autowrite/prefix", nil))
	if !strings.Contains(w.Body.String(), `"str":"qhy"`) {
		t.Errorf("expected the prefix in the body, got %s", w.Body.String())
	}
}
