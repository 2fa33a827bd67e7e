// cammon grabs continuously from every camera it finds and exports their
// grab statistics and sensor temperatures to prometheus.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/metrics"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func tempFunc(c *instant.Camera) func() float64 {
	return func() float64 {
		v, err := c.NodeMap().Float("DeviceTemperature").Value()
		if err != nil {
			return 0
		}
		return v
	}
}

func main() {
	addr := os.Getenv("INSTACAM_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	rt, err := tl.Initialize(emulator.New(emulator.Options{
		Count:     util.EnvInt("INSTACAM_CAMEMU", 2),
		FailEvery: util.EnvInt("INSTACAM_FAILEVERY", 0),
	}))
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Terminate()
	cams, err := instant.NewArrayFromRuntime(rt, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer cams.DestroyDevice()
	log.Println(cams)

	col := metrics.NewCollector()
	col.AddArray(cams)
	prometheus.MustRegister(col)
	for i := 0; i < cams.Len(); i++ {
		c := cams.At(i)
		if err := prometheus.Register(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Subsystem:   "camera",
				Name:        "device_temperature_celsius",
				Help:        "Temperature of the camera's sensor board.",
				ConstLabels: prometheus.Labels{"serial": c.DeviceInfo().SerialNumber},
			},
			tempFunc(c),
		)); err == nil {
			fmt.Printf("GaugeFunc 'device_temperature_celsius' registered for %s.\n", c.DeviceInfo().SerialNumber)
		}
	}

	if err := cams.StartGrabbing(instant.GrabOptions{Strategy: grab.LatestImageOnly}); err != nil {
		log.Fatal(err)
	}
	defer cams.StopGrabbing()
	go func() {
		for cams.IsGrabbing() {
			res, err := cams.RetrieveResult(time.Second, instant.TimeoutReturn)
			if err != nil {
				log.Println(err)
				return
			}
			if res != nil {
				res.Release()
			}
		}
	}()

	// The Handler function provides a default handler to expose metrics
	// via an HTTP server. "/metrics" is the usual endpoint for that.
	http.Handle("/metrics", promhttp.Handler())
	log.Fatal(http.ListenAndServe(addr, nil))
}
