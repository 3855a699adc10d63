package camera

import (
	"sync"

	"github.com/hcitlab/irgen/camera"
	"github.com/hcitlab/irgen/openni"
)

// LockableMapGenerator is a map generator with an exclusive change lock
type LockableMapGenerator interface {
	camera.MapGenerator
	LockGenerator() error
	UnlockGenerator() error
}

// SyncGenerator serializes calls to a generator that is not safe for
// concurrent use.  HTTP handlers, config reloads, and the lock route all
// share one.
type SyncGenerator struct {
	mu sync.Mutex
	g  LockableMapGenerator
}

// NewSyncGenerator wraps g
func NewSyncGenerator(g LockableMapGenerator) *SyncGenerator {
	return &SyncGenerator{g: g}
}

// StartGenerating starts frame production
func (s *SyncGenerator) StartGenerating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.StartGenerating()
}

// StopGenerating stops frame production
func (s *SyncGenerator) StopGenerating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.StopGenerating()
}

// IsGenerating reports if frames are being produced
func (s *SyncGenerator) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.IsGenerating()
}

// LockGenerator acquires the change lock
func (s *SyncGenerator) LockGenerator() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.LockGenerator()
}

// UnlockGenerator releases the change lock
func (s *SyncGenerator) UnlockGenerator() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.UnlockGenerator()
}

// SetOutputMode sets the resolution and frame rate
func (s *SyncGenerator) SetOutputMode(mode openni.MapOutputMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.SetOutputMode(mode)
}

// GetOutputMode gets the resolution and frame rate
func (s *SyncGenerator) GetOutputMode() (openni.MapOutputMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.GetOutputMode()
}

// GetFramesPerSecond gets the frame rate of the output mode
func (s *SyncGenerator) GetFramesPerSecond() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.GetFramesPerSecond()
}

// GetMapResolution gets the resolution of the output mode
func (s *SyncGenerator) GetMapResolution() (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.GetMapResolution()
}

// SetMirroring turns horizontal mirroring on or off
func (s *SyncGenerator) SetMirroring(b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.SetMirroring(b)
}

// IsMirrored reports if mirroring is on
func (s *SyncGenerator) IsMirrored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.IsMirrored()
}

// GetTimestamp gets the timestamp of the current frame
func (s *SyncGenerator) GetTimestamp() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.GetTimestamp()
}

// GetErrorState gets the persistent error state of the device
func (s *SyncGenerator) GetErrorState() openni.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.GetErrorState()
}

// GetData copies the current frame description and a reference to its pixels into buf
func (s *SyncGenerator) GetData(buf *camera.ImageSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.GetData(buf)
}

var _ LockableMapGenerator = (*SyncGenerator)(nil)
