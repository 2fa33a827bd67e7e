// Package camera provides a generic HTTP interface to an instant camera
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/generichttp"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/imgconv"
	"github.com/nasa-jpl/instacam/imgrec"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/server"
	"github.com/nasa-jpl/instacam/util"
)

var tracer = otel.Tracer("github.com/nasa-jpl/instacam/generichttp/camera")

// DefaultTimeout bounds a single frame grab on top of the exposure time
var DefaultTimeout = 5 * time.Second

// HTTPCamera wraps an instant camera in an HTTP interface.  Images are
// grabbed one at a time on request, or, while a continuous grab started
// over HTTP is running, served from the most recent result.
type HTTPCamera struct {
	Cam *instant.Camera
	rec *imgrec.Recorder

	RouteTable server.RouteTable

	// grabMu serializes single frame grabs
	grabMu sync.Mutex

	mu     sync.Mutex
	latest *imgconv.Image
	meta   []fitsio.Card
	fresh  chan struct{} // closed when latest changes
}

// NewHTTPCamera returns a new HTTP wrapper around a camera.  rec may be nil;
// otherwise every grabbed image is offered to it and its /autowrite routes
// are added.
func NewHTTPCamera(c *instant.Camera, rec *imgrec.Recorder) *HTTPCamera {
	h := &HTTPCamera{Cam: c, rec: rec, fresh: make(chan struct{})}
	c.RegisterImageEventHandler(&instant.ImageEventHandler{OnImageGrabbed: h.keep}, dispatch.Append, dispatch.CallerOwns)
	if rec != nil {
		c.RegisterImageEventHandler(rec.ImageEventHandler(), dispatch.Append, dispatch.RegistryOwns)
	}
	rt := server.RouteTable{}
	rt[server.MethodPath{Method: http.MethodGet, Path: "/device"}] = h.GetDevice
	rt[server.MethodPath{Method: http.MethodGet, Path: "/image"}] = h.GetFrame
	rt[server.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = h.GetExposureTime
	rt[server.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = h.SetExposureTime
	rt[server.MethodPath{Method: http.MethodGet, Path: "/features"}] = h.ListFeatures
	rt[server.MethodPath{Method: http.MethodGet, Path: "/feature/{name}"}] = h.GetFeature
	rt[server.MethodPath{Method: http.MethodPost, Path: "/feature/{name}"}] = h.SetFeature
	rt[server.MethodPath{Method: http.MethodPost, Path: "/feature/{name}/execute"}] = h.ExecuteFeature
	rt[server.MethodPath{Method: http.MethodGet, Path: "/feature-file"}] = h.SaveFeatures
	rt[server.MethodPath{Method: http.MethodPost, Path: "/feature-file"}] = h.LoadFeatures
	rt[server.MethodPath{Method: http.MethodGet, Path: "/grab"}] = h.GetGrabbing
	rt[server.MethodPath{Method: http.MethodPost, Path: "/grab/start"}] = h.StartGrabbing
	rt[server.MethodPath{Method: http.MethodPost, Path: "/grab/stop"}] = h.StopGrabbing
	rt[server.MethodPath{Method: http.MethodGet, Path: "/stats"}] = h.GetStats
	h.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies server.HTTPer
func (h *HTTPCamera) RT() server.RouteTable {
	return h.RouteTable
}

// keep stores a copy of every successful result as the latest image
func (h *HTTPCamera) keep(c *instant.Camera, r *grab.Result) error {
	if !r.GrabSucceeded() {
		return nil
	}
	im, err := imgconv.FromResult(r)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.latest = im
	h.meta = imgconv.ResultCards(r)
	close(h.fresh)
	h.fresh = make(chan struct{})
	h.mu.Unlock()
	return nil
}

// status maps camera and feature errors to HTTP status codes
func fail(w http.ResponseWriter, span trace.Span, err error) {
	span.RecordError(err)
	generichttp.Error(w, err)
}

// GetDevice returns the device info as JSON
func (h *HTTPCamera) GetDevice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(struct {
		camera.DeviceInfo
		State       string `json:"state"`
		SfncVersion string `json:"sfncVersion"`
	}{h.Cam.DeviceInfo(), h.Cam.State().String(), h.Cam.SfncVersion().String()})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// exposureFeature is the exposure node of the camera's naming convention,
// in microseconds either way
func (h *HTTPCamera) exposureFeature() string {
	if h.Cam.NodeMap().Has("ExposureTime") {
		return "ExposureTime"
	}
	return "ExposureTimeRaw"
}

func (h *HTTPCamera) exposureTime() (time.Duration, error) {
	nm := h.Cam.NodeMap()
	name := h.exposureFeature()
	if name == "ExposureTime" {
		us, err := nm.Float(name).Value()
		return time.Duration(us * float64(time.Microsecond)), err
	}
	us, err := nm.Integer(name).Value()
	return time.Duration(us) * time.Microsecond, err
}

func (h *HTTPCamera) setExposureTime(d time.Duration) error {
	nm := h.Cam.NodeMap()
	name := h.exposureFeature()
	us := float64(d) / float64(time.Microsecond)
	if name == "ExposureTime" {
		return nm.Float(name).SetValue(us)
	}
	return nm.Integer(name).SetValue(int64(us + 0.5))
}

// parseExposure accepts anything time.ParseDuration does, or a bare
// number of seconds
func parseExposure(s string) (time.Duration, error) {
	if util.AllElementsNumbers(s) {
		s = s + "s"
	}
	return time.ParseDuration(s)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func (h *HTTPCamera) SetExposureTime(w http.ResponseWriter, r *http.Request) {
	texp := r.URL.Query().Get("exposureTime")
	var d time.Duration
	var err error
	if texp == "" {
		f := server.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		d = util.SecsToDuration(f.F64)
	} else {
		d, err = parseExposure(texp)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.setExposureTime(d); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetExposureTime gets the exposure time in seconds on a GET request
func (h *HTTPCamera) GetExposureTime(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(func() (float64, error) {
		d, err := h.exposureTime()
		return d.Seconds(), err
	})(w, r)
}

// frame returns the next image: the next one from a running continuous
// grab, otherwise a freshly grabbed one
func (h *HTTPCamera) frame(ctx context.Context, timeout time.Duration) (*imgconv.Image, []fitsio.Card, error) {
	if h.Cam.IsGrabbing() {
		h.mu.Lock()
		fresh := h.fresh
		h.mu.Unlock()
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-fresh:
		case <-t.C:
			return nil, nil, pkgerrors.Wrapf(camera.ErrTimeout, "no image within %v", timeout)
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.latest, h.meta, nil
	}

	h.grabMu.Lock()
	defer h.grabMu.Unlock()
	res, err := h.Cam.GrabOne(timeout, instant.TimeoutError)
	if err != nil {
		return nil, nil, err
	}
	defer res.Release()
	im, err := imgconv.FromResult(res)
	if err != nil {
		return nil, nil, err
	}
	return im, imgconv.ResultCards(res), nil
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in the query parameter fmt, one of jpg
// (the default), png, fits, or raw.
//
// the exposure time may be specified as a query parameter in any time-looking
// format, such as "25ms" or "10us".  if no unit is appended, seconds are
// assumed.  if no exposure time is provided, it is not updated and the
// existing value is used.
func (h *HTTPCamera) GetFrame(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetFrame")
	defer span.End()

	q := r.URL.Query()
	format := q.Get("fmt")
	if format == "" {
		format = "jpg"
	}
	f, err := imgconv.ParseFileFormat(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("format", f.String()))

	if texp := q.Get("exposureTime"); texp != "" {
		d, err := parseExposure(texp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.setExposureTime(d); err != nil {
			fail(w, span, err)
			return
		}
	}
	timeout := DefaultTimeout
	if d, err := h.exposureTime(); err == nil {
		timeout += d
	}

	im, meta, err := h.frame(ctx, timeout)
	if err != nil {
		fail(w, span, err)
		return
	}
	span.SetAttributes(attribute.Int("width", im.Width), attribute.Int("height", im.Height))

	hdr := w.Header()
	switch f {
	case imgconv.JPEG:
		hdr.Set("Content-Type", "image/jpeg")
	case imgconv.PNG:
		hdr.Set("Content-Type", "image/png")
	case imgconv.FITS:
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=image.fits")
	default:
		hdr.Set("Content-Type", "application/octet-stream")
		hdr.Set("X-Image-Width", strconv.Itoa(im.Width))
		hdr.Set("X-Image-Height", strconv.Itoa(im.Height))
		hdr.Set("X-Pixel-Format", im.Format.String())
	}
	if f == imgconv.FITS {
		err = imgconv.WriteFITS(w, h.fitsHeader(meta), im)
	} else {
		err = imgconv.Encode(w, im, f)
	}
	if err != nil {
		// the header is gone already, all that is left is the log
		span.RecordError(err)
	}
}

// fitsHeader prefixes the cards of one result with the camera's identity
// and exposure time
func (h *HTTPCamera) fitsHeader(meta []fitsio.Card) []fitsio.Card {
	info := h.Cam.DeviceInfo()
	cards := []fitsio.Card{
		{Name: "INSTRUME", Value: info.ModelName, Comment: "camera model"},
		{Name: "SERIAL", Value: info.SerialNumber, Comment: "camera serial number"},
	}
	if d, err := h.exposureTime(); err == nil {
		cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: d.Seconds(), Comment: "exposure time, seconds"})
	}
	return append(cards, meta...)
}

// GetFeature returns a feature's value as a string
func (h *HTTPCamera) GetFeature(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	generichttp.GetString(func() (string, error) {
		return h.Cam.NodeMap().ValueString(name)
	})(w, r)
}

// SetFeature sets a feature from {"str": value}, parsed per the feature's kind
func (h *HTTPCamera) SetFeature(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	generichttp.SetString(func(v string) error {
		return h.Cam.NodeMap().SetValueString(name, v)
	})(w, r)
}

// ExecuteFeature executes a command feature
func (h *HTTPCamera) ExecuteFeature(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Cam.NodeMap().Command(name).Execute(); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Feature describes one node of the feature map
type Feature struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Access string `json:"access"`
	Value  string `json:"value,omitempty"`
}

// ListFeatures returns every feature with its current value where readable
func (h *HTTPCamera) ListFeatures(w http.ResponseWriter, r *http.Request) {
	nm := h.Cam.NodeMap()
	var out []Feature
	for _, name := range nm.Names() {
		k, err := nm.Kind(name)
		if err != nil {
			continue
		}
		a := nm.Access(name)
		f := Feature{Name: name, Kind: k.String(), Access: a.String()}
		if a.Readable() && k != genicam.KindCommand && k != genicam.KindCategory {
			f.Value, _ = nm.ValueString(name)
		}
		out = append(out, f)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SaveFeatures downloads the camera's feature stream
func (h *HTTPCamera) SaveFeatures(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "SaveFeatures")
	defer span.End()
	if !h.Cam.IsOpen() {
		fail(w, span, camera.ErrNotOpen)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=features.pfs")
	if err := genicam.Save(w, h.Cam.NodeMap()); err != nil {
		span.RecordError(err)
	}
}

// LoadFeatures applies a feature stream from the request body.  With
// ?validate=true every written value is read back and compared.
func (h *HTTPCamera) LoadFeatures(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "LoadFeatures")
	defer span.End()
	defer r.Body.Close()
	validate, _ := strconv.ParseBool(r.URL.Query().Get("validate"))
	span.SetAttributes(attribute.Bool("validate", validate))
	if !h.Cam.IsOpen() {
		fail(w, span, camera.ErrNotOpen)
		return
	}
	if err := genicam.Load(r.Body, h.Cam.NodeMap(), validate); err != nil {
		span.RecordError(err)
		code := generichttp.ErrorStatus(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetGrabbing reports whether the camera is grabbing
func (h *HTTPCamera) GetGrabbing(w http.ResponseWriter, r *http.Request) {
	generichttp.GetBool(func() (bool, error) { return h.Cam.IsGrabbing(), nil })(w, r)
}

// StartGrabbing starts a continuous grab on the camera's own grab loop.
// The optional body {"str": strategy} picks the grab strategy, by default
// LatestImageOnly.
func (h *HTTPCamera) StartGrabbing(w http.ResponseWriter, r *http.Request) {
	st := grab.LatestImageOnly
	s := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err == nil && s.Str != "" {
		st, err = grab.ParseStrategy(s.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	err = h.Cam.StartGrabbing(instant.GrabOptions{Strategy: st, Loop: instant.GrabLoopProvidedByInstantCamera})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StopGrabbing stops grabbing
func (h *HTTPCamera) StopGrabbing(w http.ResponseWriter, r *http.Request) {
	if err := h.Cam.StopGrabbing(); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetStats returns the camera's counters as JSON
func (h *HTTPCamera) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Cam.Stats()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTPCamera) String() string {
	return fmt.Sprintf("HTTPCamera(%s)", h.Cam.DeviceInfo())
}
