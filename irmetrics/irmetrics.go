// Package irmetrics counts infrared generator events for prometheus
package irmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hcitlab/irgen/openni"
	"github.com/hcitlab/irgen/openni/ir"
)

const namespace = "irgen"

// Collector implements ir.Observer
type Collector struct {
	frames      prometheus.Counter
	errorFrames *prometheus.CounterVec
	modeChanges prometheus.Counter
	errorState  prometheus.Gauge
	resolution  *prometheus.GaugeVec
	fps         prometheus.Gauge
}

// New creates the collector's metrics and registers them on reg
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "New data notifications from the infrared node.",
		}),
		errorFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_state_frames_total",
			Help:      "New data notifications received while the node was in an error state.",
		}, []string{"status"}),
		modeChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_mode_changes_total",
			Help:      "Output mode change notifications from the infrared node.",
		}),
		errorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "error_state",
			Help:      "Last error status seen on new data, 0 when OK.",
		}),
		resolution: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolution_pixels",
			Help:      "Map resolution of the current output mode.",
		}, []string{"axis"}),
		fps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_per_second",
			Help:      "Frame rate of the current output mode.",
		}),
	}
	for _, m := range []prometheus.Collector{c.frames, c.errorFrames, c.modeChanges, c.errorState, c.resolution, c.fps} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewData counts a frame and records the error state
func (c *Collector) NewData(state openni.Status) {
	c.frames.Inc()
	c.errorState.Set(float64(state))
	if state != openni.StatusOK {
		c.errorFrames.WithLabelValues(state.Name()).Inc()
	}
}

// OutputModeChanged counts the change and records the new mode
func (c *Collector) OutputModeChanged(mode openni.MapOutputMode) {
	c.modeChanges.Inc()
	c.SetOutputMode(mode)
}

// SetOutputMode records mode without counting a change, for the initial mode
func (c *Collector) SetOutputMode(mode openni.MapOutputMode) {
	c.resolution.WithLabelValues("x").Set(float64(mode.XRes))
	c.resolution.WithLabelValues("y").Set(float64(mode.YRes))
	c.fps.Set(float64(mode.FPS))
}

var _ ir.Observer = (*Collector)(nil)
