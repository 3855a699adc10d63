/*Package openni describes the surface of an OpenNI infrared generator node.

The node itself lives in the sensor middleware.  This package gives it a Go
shape: status codes, output modes, frame metadata, lock and callback handles,
and the IRGenerator interface that the cgo binding (build tag openni), the
in-process mock, and test fakes all satisfy.

*/
package openni

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is a native OpenNI status code.  Zero is success.
type Status uint32

// status codes reported by the middleware.  The group is in the high 16 bits.
const (
	StatusOK                 Status = 0
	StatusError              Status = 0x10001
	StatusNullInputPtr       Status = 0x10002
	StatusNullOutputPtr      Status = 0x10003
	StatusNoMatch            Status = 0x10004
	StatusBadParam           Status = 0x10005
	StatusNotImplemented     Status = 0x10006
	StatusInvalidOperation   Status = 0x10007
	StatusNodeIsLocked       Status = 0x10008
	StatusNodeNotLocked      Status = 0x10009
	StatusDeviceNotConnected Status = 0x1000a
	StatusNoNodePresent      Status = 0x1000b
	StatusInvalidLockHandle  Status = 0x1000c
	StatusWaitDataTimeout    Status = 0x1000d
)

var (
	// StatusNames maps status codes to the names the middleware gives them
	StatusNames = map[Status]string{
		StatusOK:                 "XN_STATUS_OK",
		StatusError:              "XN_STATUS_ERROR",
		StatusNullInputPtr:       "XN_STATUS_NULL_INPUT_PTR",
		StatusNullOutputPtr:      "XN_STATUS_NULL_OUTPUT_PTR",
		StatusNoMatch:            "XN_STATUS_NO_MATCH",
		StatusBadParam:           "XN_STATUS_BAD_PARAM",
		StatusNotImplemented:     "XN_STATUS_NOT_IMPLEMENTED",
		StatusInvalidOperation:   "XN_STATUS_INVALID_OPERATION",
		StatusNodeIsLocked:       "XN_STATUS_NODE_IS_LOCKED",
		StatusNodeNotLocked:      "XN_STATUS_NODE_NOT_LOCKED",
		StatusDeviceNotConnected: "XN_STATUS_DEVICE_NOT_CONNECTED",
		StatusNoNodePresent:      "XN_STATUS_NO_NODE_PRESENT",
		StatusInvalidLockHandle:  "XN_STATUS_INVALID_LOCK_HANDLE",
		StatusWaitDataTimeout:    "XN_STATUS_WAIT_DATA_TIMEOUT",
	}

	// ErrBadModeString is generated when a mode string is not of the form WxH@FPS
	ErrBadModeString = errors.New("output mode must look like 640x480@30")
)

// Name returns the symbolic name of the status, or UNKNOWN_STATUS
func (s Status) Name() string {
	if n, ok := StatusNames[s]; ok {
		return n
	}
	return "UNKNOWN_STATUS"
}

// Error satisfies the error interface
func (s Status) Error() string {
	return fmt.Sprintf("%#x - %s", uint32(s), s.Name())
}

// Error returns nil for StatusOK and the status as an error otherwise
func Error(s Status) error {
	if s == StatusOK {
		return nil
	}
	return s
}

// MapOutputMode is the resolution and frame rate of a map generator
type MapOutputMode struct {
	// XRes is the width in pixels
	XRes uint32 `json:"xres" yaml:"XRes"`

	// YRes is the height in pixels
	YRes uint32 `json:"yres" yaml:"YRes"`

	// FPS is the frame rate in frames per second
	FPS uint32 `json:"fps" yaml:"FPS"`
}

// String formats the mode as WxH@FPS
func (m MapOutputMode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.XRes, m.YRes, m.FPS)
}

// ParseMapOutputMode parses a WxH@FPS string, e.g. 640x480@30
func ParseMapOutputMode(s string) (MapOutputMode, error) {
	m := MapOutputMode{}
	res, fps, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		return m, ErrBadModeString
	}
	xs, ys, ok := strings.Cut(res, "x")
	if !ok {
		return m, ErrBadModeString
	}
	vals := [3]uint32{}
	for i, str := range []string{xs, ys, fps} {
		v, err := strconv.ParseUint(str, 10, 32)
		if err != nil {
			return m, fmt.Errorf("%w: %v", ErrBadModeString, err)
		}
		vals[i] = uint32(v)
	}
	m.XRes, m.YRes, m.FPS = vals[0], vals[1], vals[2]
	return m, nil
}

// IRMetaData is the per-frame metadata of an IR map
type IRMetaData struct {
	// FullXRes and FullYRes are the uncropped frame size
	FullXRes, FullYRes uint32

	// XRes and YRes are the (possibly cropped) frame size
	XRes, YRes uint32

	// XOffset and YOffset are the crop origin within the full frame
	XOffset, YOffset uint32

	// Timestamp is in microseconds
	Timestamp uint64

	FrameID uint32

	BytesPerPixel uint32
}

// LockHandle is the token handed out by LockForChanges.  Zero is not a valid handle.
type LockHandle uint32

// CallbackHandle identifies a registered notification handler
type CallbackHandle uint32

// StateChangedHandler is invoked by the node on a notification.  It runs on
// whatever goroutine (or native thread) the node notifies from.
type StateChangedHandler func(node IRGenerator)

// MirrorCapability controls horizontal mirroring of the map
type MirrorCapability interface {
	SetMirror(mirror bool) Status
	IsMirrored() bool
}

// ErrorStateCapability reports the persistent error state of a node
type ErrorStateCapability interface {
	GetErrorState() Status
}

// IRGenerator is an infrared map generator node
type IRGenerator interface {
	StartGenerating() Status
	StopGenerating() Status
	IsGenerating() bool

	// LockForChanges acquires the change lock and returns its handle
	LockForChanges() (LockHandle, Status)

	// UnlockForChanges releases a lock obtained from LockForChanges
	UnlockForChanges(h LockHandle) Status

	// LockedNodeStartChanges opens a configuration change.  It succeeds when
	// the node is unlocked or locked with h.
	LockedNodeStartChanges(h LockHandle) Status

	// LockedNodeEndChanges closes a change opened by LockedNodeStartChanges
	LockedNodeEndChanges(h LockHandle)

	SetMapOutputMode(mode MapOutputMode) Status
	GetMapOutputMode() (MapOutputMode, Status)

	// GetTimestamp returns the timestamp of the current frame in microseconds
	GetTimestamp() uint64

	// GetMetaData fills md with the metadata of the current frame
	GetMetaData(md *IRMetaData)

	// GetIRMap returns the pixel data of the current frame.  The slice
	// belongs to the node and is only valid until the next frame.
	GetIRMap() []uint16

	MirrorCap() MirrorCapability
	ErrorStateCap() ErrorStateCapability

	RegisterToNewDataAvailable(h StateChangedHandler) (CallbackHandle, Status)
	UnregisterFromNewDataAvailable(h CallbackHandle)
	RegisterToMapOutputModeChange(h StateChangedHandler) (CallbackHandle, Status)
	UnregisterFromMapOutputModeChange(h CallbackHandle)
}
