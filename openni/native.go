//go:build openni

package openni

/*
#cgo CFLAGS: -I/usr/include/ni
#cgo LDFLAGS: -lOpenNI
#include <stdlib.h>
#include <stdint.h>
#include <XnOpenNI.h>

// defined in native_export.go
extern void goStateChanged(XnNodeHandle hNode, void* pCookie);

static XnStatus registerNewData(XnNodeHandle h, void* cookie, XnCallbackHandle* cb) {
	return xnRegisterToNewDataAvailable(h, (XnStateChangedHandler)goStateChanged, cookie, cb);
}

static XnStatus registerModeChange(XnNodeHandle h, void* cookie, XnCallbackHandle* cb) {
	return xnRegisterToMapOutputModeChange(h, (XnStateChangedHandler)goStateChanged, cookie, cb);
}
*/
import "C"
import (
	"runtime/cgo"
	"sync"
	"unsafe"
)

// Native is an IR generator node created by the OpenNI middleware
type Native struct {
	ctx  *C.XnContext
	node C.XnNodeHandle

	mu        sync.Mutex
	callbacks map[CallbackHandle]nativeCallback
	last      CallbackHandle
}

type nativeCallback struct {
	native     C.XnCallbackHandle
	cookie     unsafe.Pointer
	handle     cgo.Handle
	modeChange bool
}

type cookieTarget struct {
	node *Native
	fn   StateChangedHandler
}

func xnBool(b bool) C.XnBool {
	if b {
		return C.TRUE
	}
	return C.FALSE
}

// OpenIRGenerator initializes the middleware and creates the first IR node it can find
func OpenIRGenerator() (*Native, error) {
	n := &Native{callbacks: map[CallbackHandle]nativeCallback{}}
	if err := Error(Status(C.xnInit(&n.ctx))); err != nil {
		return nil, err
	}
	s := Status(C.xnCreateAnyProductionTree(n.ctx, C.XN_NODE_TYPE_IR, nil, &n.node, nil))
	if err := Error(s); err != nil {
		C.xnContextRelease(n.ctx)
		return nil, err
	}
	return n, nil
}

// Close releases the node and the middleware context
func (n *Native) Close() error {
	n.mu.Lock()
	for h, cb := range n.callbacks {
		if cb.modeChange {
			C.xnUnregisterFromMapOutputModeChange(n.node, cb.native)
		} else {
			C.xnUnregisterFromNewDataAvailable(n.node, cb.native)
		}
		n.dropCallback(h)
	}
	n.mu.Unlock()
	C.xnProductionNodeRelease(n.node)
	C.xnContextRelease(n.ctx)
	return nil
}

// WaitAndUpdate blocks until the node has a new frame
func (n *Native) WaitAndUpdate() error {
	return Error(Status(C.xnWaitOneUpdateAll(n.ctx, n.node)))
}

func (n *Native) StartGenerating() Status { return Status(C.xnStartGenerating(n.node)) }
func (n *Native) StopGenerating() Status { return Status(C.xnStopGenerating(n.node)) }
func (n *Native) IsGenerating() bool { return C.xnIsGenerating(n.node) == C.TRUE }

func (n *Native) LockForChanges() (LockHandle, Status) {
	var h C.XnLockHandle
	s := Status(C.xnLockNodeForChanges(n.node, &h))
	return LockHandle(h), s
}

func (n *Native) UnlockForChanges(h LockHandle) Status {
	return Status(C.xnUnlockNodeForChanges(n.node, C.XnLockHandle(h)))
}

func (n *Native) LockedNodeStartChanges(h LockHandle) Status {
	return Status(C.xnLockedNodeStartChanges(n.node, C.XnLockHandle(h)))
}

func (n *Native) LockedNodeEndChanges(h LockHandle) {
	C.xnLockedNodeEndChanges(n.node, C.XnLockHandle(h))
}

func (n *Native) SetMapOutputMode(m MapOutputMode) Status {
	mode := C.XnMapOutputMode{nXRes: C.XnUInt32(m.XRes), nYRes: C.XnUInt32(m.YRes), nFPS: C.XnUInt32(m.FPS)}
	return Status(C.xnSetMapOutputMode(n.node, &mode))
}

func (n *Native) GetMapOutputMode() (MapOutputMode, Status) {
	var mode C.XnMapOutputMode
	s := Status(C.xnGetMapOutputMode(n.node, &mode))
	return MapOutputMode{XRes: uint32(mode.nXRes), YRes: uint32(mode.nYRes), FPS: uint32(mode.nFPS)}, s
}

func (n *Native) GetTimestamp() uint64 { return uint64(C.xnGetTimestamp(n.node)) }

func (n *Native) GetMetaData(md *IRMetaData) {
	cmd := C.xnAllocateIRMetaData()
	defer C.xnFreeIRMetaData(cmd)
	C.xnGetIRMetaData(n.node, cmd)
	mp := cmd.pMap
	out := mp.pOutput
	*md = IRMetaData{
		FullXRes:      uint32(mp.FullRes.X),
		FullYRes:      uint32(mp.FullRes.Y),
		XRes:          uint32(mp.Res.X),
		YRes:          uint32(mp.Res.Y),
		XOffset:       uint32(mp.Offset.X),
		YOffset:       uint32(mp.Offset.Y),
		Timestamp:     uint64(out.nTimestamp),
		FrameID:       uint32(out.nFrameID),
		BytesPerPixel: uint32(C.xnGetBytesPerPixelForPixelFormat(mp.PixelFormat)),
	}
}

// GetIRMap returns a view of the middleware's buffer, not a copy
func (n *Native) GetIRMap() []uint16 {
	ptr := C.xnGetIRMap(n.node)
	if ptr == nil {
		return nil
	}
	md := IRMetaData{}
	n.GetMetaData(&md)
	return unsafe.Slice((*uint16)(unsafe.Pointer(ptr)), int(md.XRes)*int(md.YRes))
}

type nativeMirror struct{ n *Native }

func (m nativeMirror) SetMirror(b bool) Status {
	return Status(C.xnSetMirror(m.n.node, xnBool(b)))
}

func (m nativeMirror) IsMirrored() bool { return C.xnIsMirrored(m.n.node) == C.TRUE }

func (n *Native) MirrorCap() MirrorCapability { return nativeMirror{n} }

type nativeErrorState struct{ n *Native }

func (e nativeErrorState) GetErrorState() Status { return Status(C.xnGetNodeErrorState(e.n.node)) }

func (n *Native) ErrorStateCap() ErrorStateCapability { return nativeErrorState{n} }

type registrar func(C.XnNodeHandle, unsafe.Pointer, *C.XnCallbackHandle) C.XnStatus

func (n *Native) register(reg registrar, modeChange bool, fn StateChangedHandler) (CallbackHandle, Status) {
	if fn == nil {
		return 0, StatusNullInputPtr
	}
	handle := cgo.NewHandle(cookieTarget{node: n, fn: fn})
	// the cookie lives in C memory so the middleware may keep it
	cookie := C.malloc(C.size_t(unsafe.Sizeof(C.uintptr_t(0))))
	*(*C.uintptr_t)(cookie) = C.uintptr_t(handle)
	var cb C.XnCallbackHandle
	s := Status(reg(n.node, cookie, &cb))
	if s != StatusOK {
		handle.Delete()
		C.free(cookie)
		return 0, s
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last++
	n.callbacks[n.last] = nativeCallback{native: cb, cookie: cookie, handle: handle, modeChange: modeChange}
	return n.last, StatusOK
}

// dropCallback frees the Go side of a callback.  The caller must hold mu.
func (n *Native) dropCallback(h CallbackHandle) {
	cb, ok := n.callbacks[h]
	if !ok {
		return
	}
	delete(n.callbacks, h)
	cb.handle.Delete()
	C.free(cb.cookie)
}

func (n *Native) RegisterToNewDataAvailable(fn StateChangedHandler) (CallbackHandle, Status) {
	return n.register(func(h C.XnNodeHandle, c unsafe.Pointer, cb *C.XnCallbackHandle) C.XnStatus {
		return C.registerNewData(h, c, cb)
	}, false, fn)
}

func (n *Native) UnregisterFromNewDataAvailable(h CallbackHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cb, ok := n.callbacks[h]
	if !ok {
		return
	}
	C.xnUnregisterFromNewDataAvailable(n.node, cb.native)
	n.dropCallback(h)
}

func (n *Native) RegisterToMapOutputModeChange(fn StateChangedHandler) (CallbackHandle, Status) {
	return n.register(func(h C.XnNodeHandle, c unsafe.Pointer, cb *C.XnCallbackHandle) C.XnStatus {
		return C.registerModeChange(h, c, cb)
	}, true, fn)
}

func (n *Native) UnregisterFromMapOutputModeChange(h CallbackHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cb, ok := n.callbacks[h]
	if !ok {
		return
	}
	C.xnUnregisterFromMapOutputModeChange(n.node, cb.native)
	n.dropCallback(h)
}
