// Package imgrec contains an image recorder used to automatically save frames to disk.
package imgrec

import (
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/qhyccd/camera"
	"github.com/nasa-jpl/qhyccd/generichttp"
)

// Config is the on-disk configuration of a Recorder
type Config struct {
	// Root is the root path
	Root string `koanf:"Root" yaml:"Root"`

	// Prefix is the prefix for the filenames
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// Enabled turns writing to disk on or off; the last frame is kept either way
	Enabled bool `koanf:"Enabled" yaml:"Enabled"`
}

// Recorder records frames with incrementing filenames in yyyy-mm-dd subfolders.
// It implements camera.ImageSink and camera.FailureReporter, and is safe
// for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	root    string
	prefix  string
	enabled bool

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	last    *camera.Frame
	lastErr error
	now     func() time.Time
	logger  *log.Logger
}

// New returns a recorder with the given configuration.  A nil logger discards
// the recorder's messages.
func New(cfg Config, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}
	return &Recorder{
		root:    cfg.Root,
		prefix:  cfg.Prefix,
		enabled: cfg.Enabled,
		now:     time.Now,
		logger:  logger,
	}
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := r.now()
	y, m, d := now.Year(), now.Month(), now.Day()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// DeliverImage implements camera.ImageSink.  The frame is kept as the last
// frame, and written to disk when the recorder is enabled and has a root.
func (r *Recorder) DeliverImage(f camera.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &f
	r.lastErr = nil
	if !r.enabled || r.root == "" {
		return nil
	}
	fn, err := r.writeLocked(f)
	if err != nil {
		r.logger.Printf("error recording %s frame: %v", f.Kind, err)
		return err
	}
	r.logger.Printf("recorded %dx%d %s frame to %s", f.Width, f.Height, f.Kind, fn)
	return nil
}

func (r *Recorder) writeLocked(f camera.Frame) (string, error) {
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	r.incrLocked(fldr)
	fn := path.Join(fldr, fmt.Sprintf("%s%06d.fits", r.prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer fid.Close()
	err = camera.WriteFits(fid, f)
	if err != nil {
		os.Remove(fn)
		return "", err
	}
	return fn, fid.Sync()
}

// ExposureFailed implements camera.FailureReporter
func (r *Recorder) ExposureFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
	r.logger.Printf("exposure failed: %v", err)
}

// Last returns the most recently delivered frame
func (r *Recorder) Last() (camera.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return camera.Frame{}, false
	}
	return *r.last, true
}

// LastError returns the error of the most recent failed exposure, cleared
// by the next delivered frame
func (r *Recorder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// incrLocked updates the filename counter by scanning the folder.  If there is an error,
// the counter is not incremented
func (r *Recorder) incrLocked(dn string) {
	files, err := ioutil.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// Root returns the root folder
func (r *Recorder) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// SetRoot changes the root folder, creating today's folder beneath it
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root
	r.updateFolder()
	_, err := r.mkDir()
	return err
}

// Prefix returns the filename prefix
func (r *Recorder) Prefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// SetPrefix changes the filename prefix and restarts the counter
func (r *Recorder) SetPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix = prefix
	r.counter = 0
}

// Enabled returns true if frames are written to disk
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled turns writing to disk on or off
func (r *Recorder) SetEnabled(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = b
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and
// /autowrite/enabled to the table, which manipulate the recorder
func (r *Recorder) Inject(rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(r.SetRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(func() (string, error) {
		return r.Root(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(func(s string) error {
		r.SetPrefix(s)
		return nil
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(func() (string, error) {
		return r.Prefix(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(func(b bool) error {
		r.SetEnabled(b)
		return nil
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(func() (bool, error) {
		return r.Enabled(), nil
	})
}
