package openni

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// SupportedModes are the output modes the mock generator accepts
	SupportedModes = []MapOutputMode{
		{XRes: 320, YRes: 240, FPS: 30},
		{XRes: 640, YRes: 480, FPS: 30},
		{XRes: 640, YRes: 480, FPS: 60},
	}

	// DefaultMode is the mode a new mock generator starts in
	DefaultMode = MapOutputMode{XRes: 640, YRes: 480, FPS: 30}
)

// Cropping describes a region of the full map.  A zero size disables cropping.
type Cropping struct {
	XOffset, YOffset uint32
	XRes, YRes       uint32
}

type callback struct {
	handle CallbackHandle
	fn     StateChangedHandler
}

// MockIRGenerator is an in-process infrared generator.  It produces a
// synthetic 10-bit map and follows the middleware's locking rules.
type MockIRGenerator struct {
	sync.Mutex

	mode       MapOutputMode
	crop       Cropping
	generating bool
	mirror     bool
	errState   Status

	// lockedBy is the handle that holds the change lock, zero when unlocked
	lockedBy   LockHandle
	lastHandle LockHandle
	changing   bool

	frameID   uint32
	timestamp uint64
	irmap     []uint16
	start     time.Time

	lastCallback CallbackHandle
	newData      []callback
	modeChange   []callback
}

// NewMockIRGenerator returns a stopped mock generator in DefaultMode
func NewMockIRGenerator() *MockIRGenerator {
	return &MockIRGenerator{mode: DefaultMode, start: time.Now()}
}

func supported(m MapOutputMode) bool {
	for _, s := range SupportedModes {
		if s == m {
			return true
		}
	}
	return false
}

// writable reports if a setter may proceed.  The caller must hold the mutex.
func (m *MockIRGenerator) writable() Status {
	if m.lockedBy != 0 && !m.changing {
		return StatusNodeIsLocked
	}
	return StatusOK
}

// StartGenerating starts frame production
func (m *MockIRGenerator) StartGenerating() Status {
	m.Lock()
	defer m.Unlock()
	if s := m.writable(); s != StatusOK {
		return s
	}
	m.generating = true
	return StatusOK
}

// StopGenerating stops frame production
func (m *MockIRGenerator) StopGenerating() Status {
	m.Lock()
	defer m.Unlock()
	if s := m.writable(); s != StatusOK {
		return s
	}
	m.generating = false
	return StatusOK
}

// IsGenerating reports if frames are being produced
func (m *MockIRGenerator) IsGenerating() bool {
	m.Lock()
	defer m.Unlock()
	return m.generating
}

// LockForChanges acquires the change lock
func (m *MockIRGenerator) LockForChanges() (LockHandle, Status) {
	m.Lock()
	defer m.Unlock()
	if m.lockedBy != 0 {
		return 0, StatusNodeIsLocked
	}
	m.lastHandle++
	m.lockedBy = m.lastHandle
	return m.lockedBy, StatusOK
}

// UnlockForChanges releases the change lock held by h
func (m *MockIRGenerator) UnlockForChanges(h LockHandle) Status {
	m.Lock()
	defer m.Unlock()
	if m.lockedBy == 0 {
		return StatusNodeNotLocked
	}
	if m.lockedBy != h {
		return StatusInvalidLockHandle
	}
	m.lockedBy = 0
	m.changing = false
	return StatusOK
}

// LockedNodeStartChanges opens a change under h
func (m *MockIRGenerator) LockedNodeStartChanges(h LockHandle) Status {
	m.Lock()
	defer m.Unlock()
	if m.lockedBy != 0 && m.lockedBy != h {
		return StatusNodeIsLocked
	}
	m.changing = m.lockedBy != 0
	return StatusOK
}

// LockedNodeEndChanges closes a change opened under h
func (m *MockIRGenerator) LockedNodeEndChanges(h LockHandle) {
	m.Lock()
	defer m.Unlock()
	if m.lockedBy == h {
		m.changing = false
	}
}

// SetMapOutputMode changes the resolution and frame rate.  Output mode
// handlers are notified when the mode actually changes.
func (m *MockIRGenerator) SetMapOutputMode(mode MapOutputMode) Status {
	m.Lock()
	if s := m.writable(); s != StatusOK {
		m.Unlock()
		return s
	}
	if !supported(mode) {
		m.Unlock()
		return StatusBadParam
	}
	changed := m.mode != mode
	m.mode = mode
	m.crop = Cropping{}
	m.irmap = nil
	cbs := append([]callback(nil), m.modeChange...)
	m.Unlock()
	if changed {
		for _, cb := range cbs {
			cb.fn(m)
		}
	}
	return StatusOK
}

// GetMapOutputMode returns the current output mode
func (m *MockIRGenerator) GetMapOutputMode() (MapOutputMode, Status) {
	m.Lock()
	defer m.Unlock()
	return m.mode, StatusOK
}

// SetCropping restricts the map to a region of the full frame
func (m *MockIRGenerator) SetCropping(c Cropping) Status {
	m.Lock()
	defer m.Unlock()
	if s := m.writable(); s != StatusOK {
		return s
	}
	if c.XOffset+c.XRes > m.mode.XRes || c.YOffset+c.YRes > m.mode.YRes {
		return StatusBadParam
	}
	m.crop = c
	m.irmap = nil
	return StatusOK
}

// SetErrorState injects a persistent error state, StatusOK clears it
func (m *MockIRGenerator) SetErrorState(s Status) {
	m.Lock()
	defer m.Unlock()
	m.errState = s
}

// GetErrorState returns the injected error state
func (m *MockIRGenerator) GetErrorState() Status {
	m.Lock()
	defer m.Unlock()
	return m.errState
}

// SetMirror turns horizontal mirroring on or off
func (m *MockIRGenerator) SetMirror(mirror bool) Status {
	m.Lock()
	defer m.Unlock()
	if s := m.writable(); s != StatusOK {
		return s
	}
	m.mirror = mirror
	return StatusOK
}

// IsMirrored reports if mirroring is on
func (m *MockIRGenerator) IsMirrored() bool {
	m.Lock()
	defer m.Unlock()
	return m.mirror
}

// MirrorCap returns the mirror capability, which is the mock itself
func (m *MockIRGenerator) MirrorCap() MirrorCapability { return m }

// ErrorStateCap returns the error state capability, which is the mock itself
func (m *MockIRGenerator) ErrorStateCap() ErrorStateCapability { return m }

// GetTimestamp returns the timestamp of the current frame
func (m *MockIRGenerator) GetTimestamp() uint64 {
	m.Lock()
	defer m.Unlock()
	return m.timestamp
}

// region returns the size and origin of the produced map.  The caller must hold the mutex.
func (m *MockIRGenerator) region() (x, y, offx, offy uint32) {
	if m.crop.XRes == 0 || m.crop.YRes == 0 {
		return m.mode.XRes, m.mode.YRes, 0, 0
	}
	return m.crop.XRes, m.crop.YRes, m.crop.XOffset, m.crop.YOffset
}

// GetMetaData fills md with the current frame's metadata
func (m *MockIRGenerator) GetMetaData(md *IRMetaData) {
	m.Lock()
	defer m.Unlock()
	x, y, offx, offy := m.region()
	*md = IRMetaData{
		FullXRes:      m.mode.XRes,
		FullYRes:      m.mode.YRes,
		XRes:          x,
		YRes:          y,
		XOffset:       offx,
		YOffset:       offy,
		Timestamp:     m.timestamp,
		FrameID:       m.frameID,
		BytesPerPixel: 2,
	}
}

// GetIRMap returns the current frame.  It is empty before the first frame.
func (m *MockIRGenerator) GetIRMap() []uint16 {
	m.Lock()
	defer m.Unlock()
	return m.irmap
}

func (m *MockIRGenerator) register(list *[]callback, h StateChangedHandler) (CallbackHandle, Status) {
	if h == nil {
		return 0, StatusNullInputPtr
	}
	m.Lock()
	defer m.Unlock()
	m.lastCallback++
	*list = append(*list, callback{handle: m.lastCallback, fn: h})
	return m.lastCallback, StatusOK
}

func (m *MockIRGenerator) unregister(list *[]callback, h CallbackHandle) {
	m.Lock()
	defer m.Unlock()
	for i, cb := range *list {
		if cb.handle == h {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// RegisterToNewDataAvailable adds a handler called after every frame
func (m *MockIRGenerator) RegisterToNewDataAvailable(h StateChangedHandler) (CallbackHandle, Status) {
	return m.register(&m.newData, h)
}

// UnregisterFromNewDataAvailable removes a new data handler
func (m *MockIRGenerator) UnregisterFromNewDataAvailable(h CallbackHandle) {
	m.unregister(&m.newData, h)
}

// RegisterToMapOutputModeChange adds a handler called when the output mode changes
func (m *MockIRGenerator) RegisterToMapOutputModeChange(h StateChangedHandler) (CallbackHandle, Status) {
	return m.register(&m.modeChange, h)
}

// UnregisterFromMapOutputModeChange removes an output mode handler
func (m *MockIRGenerator) UnregisterFromMapOutputModeChange(h CallbackHandle) {
	m.unregister(&m.modeChange, h)
}

// Tick produces one frame if the generator is running and notifies the new
// data handlers.  It reports whether a frame was produced.
func (m *MockIRGenerator) Tick() bool {
	m.Lock()
	if !m.generating {
		m.Unlock()
		return false
	}
	m.frameID++
	m.timestamp = uint64(time.Since(m.start).Microseconds())
	x, y, offx, offy := m.region()
	// a fresh slice per frame, readers may still hold the previous one
	buf := make([]uint16, int(x)*int(y))
	for row := uint32(0); row < y; row++ {
		for col := uint32(0); col < x; col++ {
			fx := col + offx
			if m.mirror {
				fx = m.mode.XRes - 1 - fx
			}
			fy := row + offy
			v := fx*1023/m.mode.XRes + fy*255/m.mode.YRes + m.frameID*4
			buf[row*x+col] = uint16(v & 0x3ff)
		}
	}
	m.irmap = buf
	cbs := append([]callback(nil), m.newData...)
	m.Unlock()
	for _, cb := range cbs {
		cb.fn(m)
	}
	return true
}

// Run produces frames at the output mode's frame rate until ctx is done.
func (m *MockIRGenerator) Run(ctx context.Context) error {
	mode, _ := m.GetMapOutputMode()
	fps := mode.FPS
	lim := rate.NewLimiter(rate.Limit(fps), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		mode, _ = m.GetMapOutputMode()
		if mode.FPS != fps {
			fps = mode.FPS
			lim.SetLimit(rate.Limit(fps))
		}
		m.Tick()
	}
}
