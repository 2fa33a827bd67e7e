/*Package metrics exports instant camera counters to Prometheus.

A Collector reads Camera.Stats at scrape time, so nothing is added to the grab
path.  Every series carries the camera's serial number and model as labels.
*/
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/instacam/instant"
)

const namespace = "instacam"

var labels = []string{"serial", "model"}

func desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "camera", name), help, labels, nil)
}

var (
	grabbedDesc   = desc("grabbed_total", "Grab results received from the device.")
	failedDesc    = desc("failed_total", "Grab results received incomplete or failed.")
	retrievedDesc = desc("retrieved_total", "Grab results handed to the consumer.")
	skippedDesc   = desc("skipped_total", "Grab results dropped by the grab strategy.")
	queuedDesc    = desc("queued_results", "Grab results waiting in the output queue.")
	buffersDesc   = desc("buffers_in_use", "Grab buffers queued on the device or held by the consumer.")
	grabbingDesc  = desc("grabbing", "1 while the camera is grabbing.")
	removedDesc   = desc("device_removed", "1 if the attached device was unplugged.")
)

// Collector is a prometheus.Collector over a set of cameras
type Collector struct {
	mu   sync.Mutex
	cams map[*instant.Camera]struct{}
}

// NewCollector returns a collector watching cams
func NewCollector(cams ...*instant.Camera) *Collector {
	c := &Collector{cams: make(map[*instant.Camera]struct{})}
	for _, cam := range cams {
		c.Add(cam)
	}
	return c
}

// Add starts reporting cam
func (c *Collector) Add(cam *instant.Camera) {
	c.mu.Lock()
	c.cams[cam] = struct{}{}
	c.mu.Unlock()
}

// Remove stops reporting cam
func (c *Collector) Remove(cam *instant.Camera) {
	c.mu.Lock()
	delete(c.cams, cam)
	c.mu.Unlock()
}

// AddArray reports every camera of a
func (c *Collector) AddArray(a *instant.Array) {
	for i := 0; i < a.Len(); i++ {
		c.Add(a.At(i))
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{grabbedDesc, failedDesc, retrievedDesc, skippedDesc, queuedDesc, buffersDesc, grabbingDesc, removedDesc} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	cams := make([]*instant.Camera, 0, len(c.cams))
	for cam := range c.cams {
		cams = append(cams, cam)
	}
	c.mu.Unlock()

	for _, cam := range cams {
		info := cam.DeviceInfo()
		if info.SerialNumber == "" {
			// detached, nothing to label it with
			continue
		}
		lv := []string{info.SerialNumber, info.ModelName}
		st := cam.Stats()
		ch <- prometheus.MustNewConstMetric(grabbedDesc, prometheus.CounterValue, float64(st.Grabbed), lv...)
		ch <- prometheus.MustNewConstMetric(failedDesc, prometheus.CounterValue, float64(st.Failed), lv...)
		ch <- prometheus.MustNewConstMetric(retrievedDesc, prometheus.CounterValue, float64(st.Retrieved), lv...)
		ch <- prometheus.MustNewConstMetric(skippedDesc, prometheus.CounterValue, float64(st.Skipped), lv...)
		ch <- prometheus.MustNewConstMetric(queuedDesc, prometheus.GaugeValue, float64(st.Queued), lv...)
		ch <- prometheus.MustNewConstMetric(buffersDesc, prometheus.GaugeValue, float64(st.BuffersInUse), lv...)
		ch <- prometheus.MustNewConstMetric(grabbingDesc, prometheus.GaugeValue, boolf(st.Grabbing), lv...)
		ch <- prometheus.MustNewConstMetric(removedDesc, prometheus.GaugeValue, boolf(cam.IsCameraDeviceRemoved()), lv...)
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
