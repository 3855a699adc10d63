// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/hcitlab/irgen/generichttp"
)

// Lockable is a device with an exclusive change lock
type Lockable interface {
	LockGenerator() error
	UnlockGenerator() error
}

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of routes not to protect.  Locking it acquires the
// device's change lock.
type Locker struct {
	mu       sync.Mutex
	isLocked bool
	dev      Lockable

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string

	// ReadOnly lets GET requests through while locked
	ReadOnly bool
}

// New returns a new Locker for dev with DoNotProtect prepopulated with "lock"
func New(dev Lockable) *Locker {
	return &Locker{dev: dev, DoNotProtect: []string{"lock"}}
}

// staler is implemented by errors that may report a persistent device fault
// alongside a call that itself succeeded
type staler interface {
	Stale() bool
}

// Lock acquires the device lock.  The locker stays unlocked if that fails.
// A stale error means the lock was taken while the device reports an older
// fault; the locker is then locked and the error is still returned.
func (l *Locker) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isLocked {
		return nil
	}
	err := l.dev.LockGenerator()
	var st staler
	if err != nil && !(errors.As(err, &st) && st.Stale()) {
		return err
	}
	l.isLocked = true
	return err
}

// Unlock releases the device lock.  The locker is unlocked even on error,
// since the held handle is given up either way.
func (l *Locker) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLocked {
		return nil
	}
	l.isLocked = false
	return l.dev.UnlockGenerator()
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

func (l *Locker) protected(r *http.Request) bool {
	if l.ReadOnly && r.Method == http.MethodGet {
		return false
	}
	url := r.URL.Path
	for _, str := range l.DoNotProtect {
		if strings.Contains(url, str) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && l.protected(r) {
			w.WriteHeader(http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		err = l.Lock()
	} else {
		err = l.Unlock()
	}
	var st staler
	if errors.As(err, &st) && st.Stale() {
		// the lock changed hands; the device fault is reported on /error-state
		err = nil
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
