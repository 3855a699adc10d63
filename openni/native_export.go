//go:build openni

package openni

/*
#include <stdint.h>
#include <XnOpenNI.h>
*/
import "C"
import (
	"runtime/cgo"
	"unsafe"
)

// goStateChanged is the single C entry point for node notifications.  The
// cookie holds a cgo.Handle to the registered handler.
//
//export goStateChanged
func goStateChanged(hNode C.XnNodeHandle, pCookie unsafe.Pointer) {
	h := cgo.Handle(*(*C.uintptr_t)(pCookie))
	t := h.Value().(cookieTarget)
	t.fn(t.node)
}
