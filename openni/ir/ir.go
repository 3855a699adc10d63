/*Package ir adapts an OpenNI infrared generator node to an idiomatic Go type.

Every method is a direct call through to the node.  Mutating calls are made
inside the node's locked-change bracket using the lock handle held by the
Generator, and report failures as a *StatusError that keeps the call's own
status apart from the node's persistent error state.

The Generator does not own the node.  Whoever created the node must keep it
alive for as long as the Generator may be called, and must not release it
while callbacks are registered.

*/
package ir

import (
	"fmt"

	"github.com/cenkalti/backoff"
	"github.com/hcitlab/irgen/camera"
	"github.com/hcitlab/irgen/openni"
)

// Generator wraps an infrared generator node
type Generator struct {
	node openni.IRGenerator

	// lock is the handle from the last LockGenerator, zero when not held
	lock openni.LockHandle

	log Logger
	obs Observer

	newData    openni.CallbackHandle
	modeChange openni.CallbackHandle
	registered bool
}

// New returns a Generator calling through to node.  A nil logger discards messages.
func New(node openni.IRGenerator, log Logger) *Generator {
	if log == nil {
		log = nopLogger{}
	}
	return &Generator{node: node, log: log}
}

// SetObserver attaches an observer to the callbacks.  It must be called
// before RegisterCallbacks.
func (g *Generator) SetObserver(o Observer) {
	g.obs = o
}

// Node returns the wrapped node
func (g *Generator) Node() openni.IRGenerator {
	return g.node
}

// LockHandle returns the held lock handle, zero if the lock is not held
func (g *Generator) LockHandle() openni.LockHandle {
	return g.lock
}

// changeLocked runs fn inside the node's locked-change bracket
func (g *Generator) changeLocked(fn func() openni.Status) openni.Status {
	g.node.LockedNodeStartChanges(g.lock)
	s := fn()
	g.node.LockedNodeEndChanges(g.lock)
	return s
}

// StartGenerating starts frame production
func (g *Generator) StartGenerating() error {
	s := g.changeLocked(g.node.StartGenerating)
	return result("start generating", g.GetErrorState(), s)
}

// StopGenerating stops frame production
func (g *Generator) StopGenerating() error {
	s := g.changeLocked(g.node.StopGenerating)
	return result("stop generating", g.GetErrorState(), s)
}

// StartGeneratingRetry calls StartGenerating until it succeeds or b gives up.
// The last error is returned.
func (g *Generator) StartGeneratingRetry(b backoff.BackOff) error {
	return backoff.Retry(g.StartGenerating, b)
}

// LockGenerator acquires the node's change lock and holds its handle.
// Calls are not counted; locking twice is passed on to the node as is.
func (g *Generator) LockGenerator() error {
	h, s := g.node.LockForChanges()
	if s == openni.StatusOK {
		g.lock = h
	}
	return result("lock", g.GetErrorState(), s)
}

// UnlockGenerator releases the change lock with the held handle
func (g *Generator) UnlockGenerator() error {
	s := g.node.UnlockForChanges(g.lock)
	g.lock = 0
	return result("unlock", g.GetErrorState(), s)
}

// SetOutputMode sets the resolution and frame rate
func (g *Generator) SetOutputMode(mode openni.MapOutputMode) error {
	s := g.changeLocked(func() openni.Status {
		return g.node.SetMapOutputMode(mode)
	})
	return result(fmt.Sprintf("set output mode %v", mode), g.GetErrorState(), s)
}

// GetOutputMode gets the resolution and frame rate
func (g *Generator) GetOutputMode() (openni.MapOutputMode, error) {
	mode, s := g.node.GetMapOutputMode()
	return mode, result("get output mode", g.GetErrorState(), s)
}

// SetMirroring turns horizontal mirroring on or off
func (g *Generator) SetMirroring(mirror bool) error {
	s := g.changeLocked(func() openni.Status {
		return g.node.MirrorCap().SetMirror(mirror)
	})
	return result("set mirroring", g.GetErrorState(), s)
}

// IsMirrored reports if mirroring is on
func (g *Generator) IsMirrored() bool {
	return g.node.MirrorCap().IsMirrored()
}

// IsGenerating reports if the node is producing frames
func (g *Generator) IsGenerating() bool {
	return g.node.IsGenerating()
}

// GetErrorState returns the node's persistent error state
func (g *Generator) GetErrorState() openni.Status {
	return g.node.ErrorStateCap().GetErrorState()
}

// GetTimestamp gets the timestamp of the current frame in microseconds
func (g *Generator) GetTimestamp() (uint64, error) {
	t := g.node.GetTimestamp()
	return t, result("get timestamp", g.GetErrorState(), openni.StatusOK)
}

// GetFramesPerSecond gets the frame rate of the output mode
func (g *Generator) GetFramesPerSecond() (int, error) {
	mode, s := g.node.GetMapOutputMode()
	return int(mode.FPS), result("get frame rate", g.GetErrorState(), s)
}

// GetMapResolution gets the resolution of the output mode
func (g *Generator) GetMapResolution() (uint32, uint32, error) {
	mode, s := g.node.GetMapOutputMode()
	return mode.XRes, mode.YRes, result("get map resolution", g.GetErrorState(), s)
}

// GetData copies the current frame's metadata and a reference to its IR map
// into buf.  The map is not copied and belongs to the node.
func (g *Generator) GetData(buf *camera.ImageSource) error {
	md := openni.IRMetaData{}
	g.node.GetMetaData(&md)
	buf.SetData(g.node.GetIRMap())
	buf.SetFullResolution(md.FullXRes, md.FullYRes)
	buf.SetCroppedResolution(md.XRes, md.YRes)
	buf.SetCroppingOffset(md.XOffset, md.YOffset)
	buf.SetTimestamp(md.Timestamp)
	buf.SetFrameID(md.FrameID)
	buf.SetBytesPerPixel(md.BytesPerPixel)
	buf.SetCropping(md.XOffset != 0)
	buf.SetMirroring(g.node.MirrorCap().IsMirrored())
	return result("get data", g.GetErrorState(), openni.StatusOK)
}

func (g *Generator) onNewData(openni.IRGenerator) {
	s := g.GetErrorState()
	if s != openni.StatusOK {
		g.log.Log(SeverityError, fmt.Sprintf("infrared generator is in error state; status: %s", s.Name()))
	}
	if g.obs != nil {
		g.obs.NewData(s)
	}
}

func (g *Generator) onOutputModeChange(openni.IRGenerator) {
	g.log.Log(SeverityInfo, "infrared map resolution was changed")
	if g.obs != nil {
		mode, _ := g.node.GetMapOutputMode()
		g.obs.OutputModeChanged(mode)
	}
}

// RegisterCallbacks subscribes to new data and output mode change
// notifications.  New data logs an error while the node is in an error state;
// an output mode change logs at info level.
func (g *Generator) RegisterCallbacks() error {
	h1, s1 := g.node.RegisterToNewDataAvailable(g.onNewData)
	h2, s2 := g.node.RegisterToMapOutputModeChange(g.onOutputModeChange)
	if s1 == openni.StatusOK {
		g.newData = h1
	}
	if s2 == openni.StatusOK {
		g.modeChange = h2
	}
	g.registered = s1 == openni.StatusOK || s2 == openni.StatusOK
	return result("register callbacks", g.GetErrorState(), s1|s2)
}

// UnregisterCallbacks removes the handlers added by RegisterCallbacks
func (g *Generator) UnregisterCallbacks() {
	if !g.registered {
		return
	}
	if g.newData != 0 {
		g.node.UnregisterFromNewDataAvailable(g.newData)
	}
	if g.modeChange != 0 {
		g.node.UnregisterFromMapOutputModeChange(g.modeChange)
	}
	g.newData, g.modeChange, g.registered = 0, 0, false
}

var _ camera.MapGenerator = (*Generator)(nil)
