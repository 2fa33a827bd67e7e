package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/generichttp"
	camhttp "github.com/nasa-jpl/instacam/generichttp/camera"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/imgrec"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/metrics"
	"github.com/nasa-jpl/instacam/server/middleware/locker"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "instacam-http.yml"

	// EnvPrefix marks environment variables that override the config file
	EnvPrefix = "INSTACAM_"
	k         = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type emulation struct {
	// Count is the number of emulated cameras
	Count int `yaml:"Count"`

	// Class is GigE or USB
	Class string `yaml:"Class"`

	// SfncVersion selects the feature names the cameras use
	SfncVersion string `yaml:"SfncVersion"`

	// UserSetFile persists user sets, empty keeps them in memory
	UserSetFile string `yaml:"UserSetFile"`
}

type config struct {
	Addr         string                 `yaml:"Addr"`
	Root         string                 `yaml:"Root"`
	SerialNumber string                 `yaml:"SerialNumber"`
	Trace        bool                   `yaml:"Trace"`
	Recorder     recorder               `yaml:"Recorder"`
	Emulation    emulation              `yaml:"Emulation"`
	BootupArgs   map[string]interface{} `yaml:"BootupArgs"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:         ":8000",
		Root:         "/",
		SerialNumber: "auto",
		Recorder:     recorder{Root: "images", Prefix: "img"},
		Emulation:    emulation{Count: 1, Class: camera.ClassGigE, SfncVersion: "2.0.0"},
		BootupArgs: map[string]interface{}{
			"PixelFormat":  "Mono8",
			"ExposureTime": 1000,
			"GainAuto":     "Off"}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	// INSTACAM_EMULATION_COUNT=2 overrides Emulation.Count; variables that
	// name no config key are left alone
	known := k.Keys()
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "_", ".")
		for _, kk := range known {
			if strings.EqualFold(kk, key) {
				return kk
			}
		}
		return ""
	}), nil)
	if err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func root() {
	str := `instacam-http exposes control of an instant camera over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	instacam-http <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `instacam-http is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.  Any key may also be set from the environment, INSTACAM_ADDR=:9000 or
INSTACAM_RECORDER_ROOT=/data for example.  The environment wins over the file.

BootupArgs are written to the camera's features every time it is opened.  If for some reason
there is an error during server bootup, it may be that a feature is not supported by the camera.
Modify the BootupArgs portion of the config to remove the offending parameters.

serialNumber 'auto' causes the server to use the first camera found.

The server answers GET /endpoints with the list of routes.  POST /lock with {"bool": true}
makes the camera read only for every other client until it is unlocked.  Clients name
themselves with the X-Lock-Holder header, or are known by their address.
Prometheus metrics are served at /metrics.`
	fmt.Println(str)
}

// writeconf encodes the merged configuration as YAML
func writeconf(w io.Writer) error {
	c := config{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	return yml.NewEncoder(w).Encode(c)
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := writeconf(f); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	if err := writeconf(os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("instacam-http version %v\n", Version)
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}

	tp := sdktrace.NewTracerProvider()
	if cfg.Trace {
		tp = sdktrace.NewTracerProvider(sdktrace.WithSyncer(logExporter{}))
	}
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	opts := emulator.Options{
		Count:       cfg.Emulation.Count,
		Class:       cfg.Emulation.Class,
		SfncVersion: cfg.Emulation.SfncVersion,
	}
	if cfg.Emulation.UserSetFile != "" {
		store, err := emulator.NewBoltStore(cfg.Emulation.UserSetFile)
		if err != nil {
			log.Fatal(err)
		}
		opts.UserSets = store
	}
	rt, err := tl.Initialize(emulator.New(opts))
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Terminate()

	var filters []camera.DeviceInfo
	if cfg.SerialNumber != "auto" && cfg.SerialNumber != "" {
		filters = append(filters, camera.DeviceInfo{SerialNumber: cfg.SerialNumber})
	}
	dev, err := rt.CreateFirstDevice(filters...)
	if err != nil {
		log.Fatal(err)
	}
	c, err := instant.NewWithDevice(dev)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Destroy()
	c.SetLogger(log.Default())
	c.RegisterConfiguration(&instant.ConfigurationHandler{
		OnOpened: func(c *instant.Camera) error {
			return genicam.Configure(c.NodeMap(), cfg.BootupArgs)
		},
	}, dispatch.Append, dispatch.RegistryOwns)
	if err := c.Open(); err != nil {
		log.Fatal(err)
	}
	info := c.DeviceInfo()
	log.Printf("connected to %s %s, serial %s\n", info.VendorName, info.ModelName, info.SerialNumber)

	var rec *imgrec.Recorder
	if cfg.Recorder.Root != "" {
		rec = imgrec.New(cfg.Recorder.Root, cfg.Recorder.Prefix)
	}
	w := camhttp.NewHTTPCamera(c, rec)
	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "metrics")
	locker.Inject(w, lock)

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(c))

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	root.Mount(hndlrS, mux)
	w.RT().Bind(mux)
	addr := cfg.Addr + hndlrS
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, otelhttp.NewHandler(root, "instacam-http")))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		util.Exit(fmt.Errorf("unknown command %q", cmd))
	}
}
