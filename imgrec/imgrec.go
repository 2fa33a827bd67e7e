// Package imgrec contains an image recorder used to automatically save images to disk.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/imgconv"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/server"
)

// Recorder records image sequences with incrementing filenames in
// yyyy-mm-dd subfolders of a root folder.  It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the number of the next file
	counter int

	root, prefix string
	format       imgconv.FileFormat

	// enabled gates ImageEventHandler; Record ignores it
	enabled bool

	// last is the path of the newest file Record wrote
	last string

	// now is swapped by tests
	now func() time.Time
}

// New returns a recorder writing FITS files named prefix000000.fits and up
// under root.  It starts disabled.
func New(root, prefix string) *Recorder {
	return &Recorder{root: root, prefix: prefix, format: imgconv.FITS, now: time.Now}
}

// folder is the dated subfolder for the current time.  r.mu must be held.
func (r *Recorder) folder() string {
	return filepath.Join(r.root, r.now().Format("2006-01-02"))
}

// mkDir makes the folder and returns it.  r.mu must be held.
func (r *Recorder) mkDir() (string, error) {
	fldr := r.folder()
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

func (r *Recorder) filename(n int) string {
	return fmt.Sprintf("%s%06d.%s", r.prefix, n, r.format)
}

// Write implements io.Writer, appending p to the current file.  Call Incr
// to move on to the next file.
func (r *Recorder) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr, err := r.mkDir()
	if err != nil {
		return 0, err
	}
	fid, err := os.OpenFile(filepath.Join(fldr, r.filename(r.counter)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return 0, err
	}
	defer fid.Close()
	return fid.Write(p)
}

// Incr updates the filename counter to one past the highest number already
// on disk.  If the folder cannot be read the counter is not changed.
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scan()
}

// scan sets the counter from the folder contents.  r.mu must be held.
func (r *Recorder) scan() {
	dn, _ := r.mkDir()
	files, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	count := -1
	ext := "." + r.format.String()
	for _, file := range files {
		fn := file.Name()
		if file.IsDir() || !strings.HasSuffix(fn, ext) || !strings.HasPrefix(fn, r.prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.prefix), ext))
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// Record writes im to the next file and returns its path
func (r *Recorder) Record(im *imgconv.Image, cards []fitsio.Card) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	r.scan()
	fn := filepath.Join(fldr, r.filename(r.counter))
	fid, err := os.OpenFile(fn, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return "", err
	}
	if r.format == imgconv.FITS {
		err = imgconv.WriteFITS(fid, cards, im)
	} else {
		err = imgconv.Encode(fid, im, r.format)
	}
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", pkgerrors.Wrapf(err, "recording %s", fn)
	}
	r.counter++
	r.last = fn
	return fn, nil
}

// Last is the path of the most recently recorded file, "" before the first
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RecordResult copies a grab result to the next file, with its metadata in
// the FITS header
func (r *Recorder) RecordResult(res *grab.Result) (string, error) {
	im, err := imgconv.FromResult(res)
	if err != nil {
		return "", err
	}
	return r.Record(im, imgconv.ResultCards(res))
}

// ImageEventHandler returns a handler that records every successful grab
// result while the recorder is enabled.  Failed grabs are skipped.
func (r *Recorder) ImageEventHandler() *instant.ImageEventHandler {
	return &instant.ImageEventHandler{
		OnImageGrabbed: func(c *instant.Camera, res *grab.Result) error {
			if !r.Enabled() || !res.GrabSucceeded() {
				return nil
			}
			_, err := r.RecordResult(res)
			return err
		},
	}
}

// Root is the root folder
func (r *Recorder) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// SetRoot changes the root folder, creating today's folder under it
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root
	_, err := r.mkDir()
	r.scan()
	return err
}

// Prefix is the filename prefix
func (r *Recorder) Prefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// SetPrefix changes the filename prefix and rescans the counter
func (r *Recorder) SetPrefix(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix = p
	r.scan()
}

// Format is the file format of new files
func (r *Recorder) Format() imgconv.FileFormat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format
}

// SetFormat changes the file format of new files
func (r *Recorder) SetFormat(f imgconv.FileFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = f
	r.scan()
}

// Enabled reports whether ImageEventHandler records
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled turns ImageEventHandler recording on or off
func (r *Recorder) SetEnabled(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = b
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement server.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

func decodeStr(w http.ResponseWriter, r *http.Request) (string, bool) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return str.Str, true
}

// HTTPSetRoot updates the root folder of the recorder
func (h HTTPWrapper) HTTPSetRoot(w http.ResponseWriter, r *http.Request) {
	str, ok := decodeStr(w, r)
	if !ok {
		return
	}
	if err := h.Recorder.SetRoot(str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) HTTPGetRoot(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.Recorder.Root()}
	hp.EncodeAndRespond(w, r)
}

// HTTPSetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) HTTPSetPrefix(w http.ResponseWriter, r *http.Request) {
	str, ok := decodeStr(w, r)
	if !ok {
		return
	}
	h.Recorder.SetPrefix(str)
	w.WriteHeader(http.StatusOK)
}

// HTTPGetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) HTTPGetPrefix(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.Recorder.Prefix()}
	hp.EncodeAndRespond(w, r)
}

// HTTPSetFormat changes the file format, e.g. {"str": "png"}
func (h HTTPWrapper) HTTPSetFormat(w http.ResponseWriter, r *http.Request) {
	str, ok := decodeStr(w, r)
	if !ok {
		return
	}
	f, err := imgconv.ParseFileFormat(str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.SetFormat(f)
	w.WriteHeader(http.StatusOK)
}

// HTTPGetFormat returns the file format
func (h HTTPWrapper) HTTPGetFormat(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.Recorder.Format().String()}
	hp.EncodeAndRespond(w, r)
}

// HTTPGetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) HTTPGetEnabled(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled()}
	hp.EncodeAndRespond(w, r)
}

// HTTPSetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) HTTPSetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.SetEnabled(bT.Bool)
	w.WriteHeader(http.StatusOK)
}

// HTTPGetLast sends the most recently recorded file
func (h HTTPWrapper) HTTPGetLast(w http.ResponseWriter, r *http.Request) {
	fn := h.Last()
	if fn == "" {
		http.Error(w, "nothing recorded yet", http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, filepath.Base(fn), filepath.Dir(fn))
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix,
// /autowrite/format and /autowrite/enabled to the HTTPer, and GET
// /autowrite/last
func (h HTTPWrapper) Inject(other server.HTTPer) {
	rt := other.RT()
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.HTTPSetRoot
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.HTTPGetRoot
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.HTTPSetPrefix
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.HTTPGetPrefix
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/format"}] = h.HTTPSetFormat
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/format"}] = h.HTTPGetFormat
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.HTTPSetEnabled
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.HTTPGetEnabled
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/last"}] = h.HTTPGetLast
}
