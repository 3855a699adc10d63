package ir

import (
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/google/go-cmp/cmp"
	"github.com/hcitlab/irgen/camera"
	"github.com/hcitlab/irgen/openni"
)

// fakeNode records the calls made on it and returns canned statuses
type fakeNode struct {
	calls []string

	nextLock     openni.LockHandle
	unlockedWith []openni.LockHandle

	errState   openni.Status
	callStatus openni.Status
	startFails int

	generating bool
	mirror     bool
	mode       openni.MapOutputMode
	md         openni.IRMetaData
	irmap      []uint16
	timestamp  uint64

	newData    map[openni.CallbackHandle]openni.StateChangedHandler
	modeChange map[openni.CallbackHandle]openni.StateChangedHandler
	lastCB     openni.CallbackHandle
}

func newFake() *fakeNode {
	return &fakeNode{
		nextLock:   41,
		newData:    map[openni.CallbackHandle]openni.StateChangedHandler{},
		modeChange: map[openni.CallbackHandle]openni.StateChangedHandler{},
	}
}

func (f *fakeNode) record(s string) { f.calls = append(f.calls, s) }

func (f *fakeNode) StartGenerating() openni.Status {
	f.record("start")
	if f.startFails > 0 {
		f.startFails--
		return openni.StatusDeviceNotConnected
	}
	f.generating = true
	return f.callStatus
}

func (f *fakeNode) StopGenerating() openni.Status {
	f.record("stop")
	f.generating = false
	return f.callStatus
}

func (f *fakeNode) IsGenerating() bool { return f.generating }

func (f *fakeNode) LockForChanges() (openni.LockHandle, openni.Status) {
	f.record("lock")
	f.nextLock++
	return f.nextLock, f.callStatus
}

func (f *fakeNode) UnlockForChanges(h openni.LockHandle) openni.Status {
	f.record("unlock")
	f.unlockedWith = append(f.unlockedWith, h)
	return openni.StatusOK
}

func (f *fakeNode) LockedNodeStartChanges(openni.LockHandle) openni.Status {
	f.record("lock-start")
	return openni.StatusOK
}

func (f *fakeNode) LockedNodeEndChanges(openni.LockHandle) { f.record("lock-end") }

func (f *fakeNode) SetMapOutputMode(m openni.MapOutputMode) openni.Status {
	f.record("set-mode")
	f.mode = m
	return f.callStatus
}

func (f *fakeNode) GetMapOutputMode() (openni.MapOutputMode, openni.Status) {
	return f.mode, openni.StatusOK
}

func (f *fakeNode) GetTimestamp() uint64 { return f.timestamp }
func (f *fakeNode) GetMetaData(md *openni.IRMetaData) { *md = f.md }
func (f *fakeNode) GetIRMap() []uint16 { return f.irmap }
func (f *fakeNode) MirrorCap() openni.MirrorCapability { return fakeMirror{f} }
func (f *fakeNode) ErrorStateCap() openni.ErrorStateCapability { return fakeErrState{f} }

func (f *fakeNode) RegisterToNewDataAvailable(h openni.StateChangedHandler) (openni.CallbackHandle, openni.Status) {
	f.lastCB++
	f.newData[f.lastCB] = h
	return f.lastCB, openni.StatusOK
}

func (f *fakeNode) UnregisterFromNewDataAvailable(h openni.CallbackHandle) { delete(f.newData, h) }

func (f *fakeNode) RegisterToMapOutputModeChange(h openni.StateChangedHandler) (openni.CallbackHandle, openni.Status) {
	f.lastCB++
	f.modeChange[f.lastCB] = h
	return f.lastCB, openni.StatusOK
}

func (f *fakeNode) UnregisterFromMapOutputModeChange(h openni.CallbackHandle) { delete(f.modeChange, h) }

func (f *fakeNode) fireNewData() {
	for _, h := range f.newData {
		h(f)
	}
}

func (f *fakeNode) fireModeChange() {
	for _, h := range f.modeChange {
		h(f)
	}
}

type fakeMirror struct{ f *fakeNode }

func (m fakeMirror) SetMirror(b bool) openni.Status {
	m.f.record("set-mirror")
	m.f.mirror = b
	return m.f.callStatus
}

func (m fakeMirror) IsMirrored() bool { return m.f.mirror }

type fakeErrState struct{ f *fakeNode }

func (e fakeErrState) GetErrorState() openni.Status { return e.f.errState }

type entry struct {
	sev Severity
	msg string
}

type recordingLogger struct {
	sync.Mutex
	entries []entry
}

func (l *recordingLogger) Log(sev Severity, msg string) {
	l.Lock()
	defer l.Unlock()
	l.entries = append(l.entries, entry{sev, msg})
}

func (l *recordingLogger) count(sev Severity) int {
	l.Lock()
	defer l.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.sev == sev {
			n++
		}
	}
	return n
}

func TestUnlockUsesTheLockedHandle(t *testing.T) {
	f := newFake()
	g := New(f, nil)
	for i := 0; i < 3; i++ {
		if err := g.LockGenerator(); err != nil {
			t.Fatal(err)
		}
		got := g.LockHandle()
		if err := g.UnlockGenerator(); err != nil {
			t.Fatal(err)
		}
		if f.unlockedWith[i] != got {
			t.Errorf("expected unlock with handle %d, got %d", got, f.unlockedWith[i])
		}
	}
	if g.LockHandle() != 0 {
		t.Errorf("expected handle to be cleared after unlock, got %d", g.LockHandle())
	}
}

func TestStartStopBracketOrder(t *testing.T) {
	f := newFake()
	g := New(f, nil)
	g.StartGenerating()
	g.StopGenerating()
	want := []string{"lock-start", "start", "lock-end", "lock-start", "stop", "lock-end"}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestSettersUseTheBracket(t *testing.T) {
	f := newFake()
	g := New(f, nil)
	g.SetOutputMode(openni.MapOutputMode{XRes: 320, YRes: 240, FPS: 30})
	g.SetMirroring(true)
	want := []string{"lock-start", "set-mode", "lock-end", "lock-start", "set-mirror", "lock-end"}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	if !g.IsMirrored() {
		t.Error("expected mirroring to be on")
	}
}

func TestGetDataCopiesEveryField(t *testing.T) {
	f := newFake()
	f.md = openni.IRMetaData{
		FullXRes: 640, FullYRes: 480,
		XRes: 2, YRes: 2,
		XOffset: 5, YOffset: 6,
		Timestamp: 99, FrameID: 12, BytesPerPixel: 2,
	}
	f.irmap = []uint16{1, 2, 3, 4}
	f.mirror = true
	g := New(f, nil)
	buf := camera.ImageSource{}
	if err := g.GetData(&buf); err != nil {
		t.Fatal(err)
	}
	want := camera.Metadata{
		FullXRes: 640, FullYRes: 480,
		XRes: 2, YRes: 2,
		XOffset: 5, YOffset: 6,
		Timestamp: 99, FrameID: 12, BytesPerPixel: 2,
		Cropped: true, Mirrored: true,
	}
	if diff := cmp.Diff(want, buf.Metadata()); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	if &buf.Data()[0] != &f.irmap[0] {
		t.Error("expected the IR map to be referenced, not copied")
	}
	if len(f.calls) != 0 {
		t.Errorf("expected GetData to make no locking calls, got %v", f.calls)
	}
}

func TestGetDataCroppingFollowsXOffsetOnly(t *testing.T) {
	f := newFake()
	f.md = openni.IRMetaData{XOffset: 0, YOffset: 10}
	g := New(f, nil)
	buf := camera.ImageSource{}
	g.GetData(&buf)
	if buf.IsCropped() || buf.IsMirrored() {
		t.Errorf("expected a zero X offset to mean uncropped and mirroring off, got %+v", buf.Metadata())
	}
}

func TestGetErrorStateIsLive(t *testing.T) {
	f := newFake()
	g := New(f, nil)
	for _, s := range []openni.Status{openni.StatusOK, openni.StatusDeviceNotConnected, openni.StatusOK} {
		f.errState = s
		if got := g.GetErrorState(); got != s {
			t.Errorf("expected error state %v, got %v", s, got)
		}
	}
}

func TestAggregateIsBitwiseOr(t *testing.T) {
	f := newFake()
	f.errState = 0x01
	f.callStatus = 0x02
	g := New(f, nil)
	ops := map[string]func() error{
		"start":  g.StartGenerating,
		"stop":   g.StopGenerating,
		"lock":   g.LockGenerator,
		"mirror": func() error { return g.SetMirroring(true) },
		"mode":   func() error { return g.SetOutputMode(openni.MapOutputMode{}) },
	}
	for name, op := range ops {
		err := op()
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("%s: expected a *StatusError, got %v", name, err)
		}
		if se.Aggregate() != 0x03 {
			t.Errorf("%s: expected aggregate 0x03, got %#x", name, uint32(se.Aggregate()))
		}
		if se.Prior != 0x01 || se.Call != 0x02 {
			t.Errorf("%s: expected prior 0x01 and call 0x02, got %+v", name, se)
		}
		if se.Stale() {
			t.Errorf("%s: expected a fresh failure", name)
		}
	}
}

func TestStaleErrorIsDistinguishable(t *testing.T) {
	f := newFake()
	f.errState = openni.StatusDeviceNotConnected
	g := New(f, nil)
	err := g.StartGenerating()
	var se *StatusError
	if !errors.As(err, &se) || !se.Stale() {
		t.Fatalf("expected a stale error, got %v", err)
	}
	if !errors.Is(err, openni.StatusDeviceNotConnected) {
		t.Errorf("expected error to unwrap to the prior status")
	}
}

func TestSuccessIsNil(t *testing.T) {
	g := New(newFake(), nil)
	if err := g.StartGenerating(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if _, err := g.GetFramesPerSecond(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestReadAccessors(t *testing.T) {
	f := newFake()
	f.mode = openni.MapOutputMode{XRes: 320, YRes: 240, FPS: 60}
	f.timestamp = 5000
	g := New(f, nil)
	fps, _ := g.GetFramesPerSecond()
	x, y, _ := g.GetMapResolution()
	ts, _ := g.GetTimestamp()
	if fps != 60 || x != 320 || y != 240 || ts != 5000 {
		t.Errorf("expected 60 fps, 320x240, t=5000; got %d fps, %dx%d, t=%d", fps, x, y, ts)
	}
	if g.IsGenerating() {
		t.Error("expected the fake to be stopped")
	}
}

func TestCallbacksLogOnce(t *testing.T) {
	f := newFake()
	log := &recordingLogger{}
	g := New(f, log)
	if err := g.RegisterCallbacks(); err != nil {
		t.Fatal(err)
	}

	f.fireModeChange()
	if n := log.count(SeverityInfo); n != 1 {
		t.Errorf("expected one info message on output mode change, got %d", n)
	}

	f.fireNewData()
	if n := log.count(SeverityError); n != 0 {
		t.Errorf("expected no error message while the node is OK, got %d", n)
	}

	f.errState = openni.StatusDeviceNotConnected
	f.fireNewData()
	if n := log.count(SeverityError); n != 1 {
		t.Errorf("expected one error message while the node is in error, got %d", n)
	}
	if want := "infrared generator is in error state; status: XN_STATUS_DEVICE_NOT_CONNECTED"; log.entries[len(log.entries)-1].msg != want {
		t.Errorf("expected %q, got %q", want, log.entries[len(log.entries)-1].msg)
	}
}

func TestUnregisterCallbacksSilencesHandlers(t *testing.T) {
	f := newFake()
	log := &recordingLogger{}
	g := New(f, log)
	g.RegisterCallbacks()
	g.UnregisterCallbacks()
	f.errState = openni.StatusError
	f.fireNewData()
	f.fireModeChange()
	if len(log.entries) != 0 {
		t.Errorf("expected no messages after unregister, got %v", log.entries)
	}
}

type countingObserver struct {
	data, modes int
	last        openni.MapOutputMode
}

func (o *countingObserver) NewData(openni.Status) { o.data++ }
func (o *countingObserver) OutputModeChanged(m openni.MapOutputMode) {
	o.modes++
	o.last = m
}

func TestObserverSeesEvents(t *testing.T) {
	f := newFake()
	f.mode = openni.MapOutputMode{XRes: 640, YRes: 480, FPS: 30}
	o := &countingObserver{}
	g := New(f, nil)
	g.SetObserver(o)
	g.RegisterCallbacks()
	f.fireNewData()
	f.fireNewData()
	f.fireModeChange()
	if o.data != 2 || o.modes != 1 || o.last != f.mode {
		t.Errorf("expected 2 data and 1 mode event with the node's mode, got %+v", o)
	}
}

func TestStartGeneratingRetry(t *testing.T) {
	f := newFake()
	f.startFails = 2
	g := New(f, nil)
	err := g.StartGeneratingRetry(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5))
	if err != nil {
		t.Fatalf("expected start to succeed after retries, got %v", err)
	}
	if !f.generating {
		t.Error("expected the fake to be generating")
	}

	f = newFake()
	f.startFails = 10
	g = New(f, nil)
	err = g.StartGeneratingRetry(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2))
	if !errors.Is(err, openni.StatusDeviceNotConnected) {
		t.Errorf("expected the last start error, got %v", err)
	}
}

func TestAgainstMock(t *testing.T) {
	m := openni.NewMockIRGenerator()
	log := &recordingLogger{}
	g := New(m, log)
	if err := g.RegisterCallbacks(); err != nil {
		t.Fatal(err)
	}
	if err := g.LockGenerator(); err != nil {
		t.Fatal(err)
	}
	if err := g.SetOutputMode(openni.SupportedModes[0]); err != nil {
		t.Fatalf("expected the lock holder to change the mode, got %v", err)
	}
	if err := g.StartGenerating(); err != nil {
		t.Fatal(err)
	}
	if err := g.UnlockGenerator(); err != nil {
		t.Fatal(err)
	}
	m.Tick()
	buf := camera.ImageSource{}
	if err := g.GetData(&buf); err != nil {
		t.Fatal(err)
	}
	if x, y := buf.CroppedResolution(); x != 320 || y != 240 || len(buf.Data()) != 320*240 {
		t.Errorf("expected a 320x240 frame, got %dx%d with %d pixels", x, y, len(buf.Data()))
	}
	if log.count(SeverityInfo) != 1 {
		t.Errorf("expected one mode change message, got %d", log.count(SeverityInfo))
	}

	// another client holds the lock
	h, _ := m.LockForChanges()
	err := g.SetMirroring(true)
	if !errors.Is(err, openni.StatusNodeIsLocked) {
		t.Errorf("expected node is locked while another handle holds the lock, got %v", err)
	}
	m.UnlockForChanges(h)
}
