/*Package camera describes a standard set of interfaces for map generating cameras
and the image container frames are copied into.

Generator contains the lifecycle basics, while MapGenerator adds the
configuration and frame access found on depth and infrared sensors.

*/
package camera

import "github.com/hcitlab/irgen/openni"

// Generator describes a minimal frame producer with only the basics.
type Generator interface {
	// StartGenerating starts frame production
	StartGenerating() error

	// StopGenerating stops frame production
	StopGenerating() error

	// IsGenerating reports if frames are being produced.  It queries the
	// device and holds no state of its own.
	IsGenerating() bool
}

// MapGenerator describes a generator of 2D maps with a configurable output
// mode and mirroring.  A type which implements MapGenerator also implements
// Generator.
type MapGenerator interface {
	Generator

	// SetOutputMode sets the resolution and frame rate
	SetOutputMode(openni.MapOutputMode) error

	// GetOutputMode gets the resolution and frame rate
	GetOutputMode() (openni.MapOutputMode, error)

	// GetFramesPerSecond gets the frame rate of the output mode
	GetFramesPerSecond() (int, error)

	// GetMapResolution gets the (X, Y) resolution of the output mode
	GetMapResolution() (uint32, uint32, error)

	// SetMirroring turns horizontal mirroring on or off
	SetMirroring(bool) error

	// IsMirrored reports if mirroring is on
	IsMirrored() bool

	// GetTimestamp gets the timestamp of the current frame in microseconds
	GetTimestamp() (uint64, error)

	// GetErrorState gets the persistent error state of the device
	GetErrorState() openni.Status

	// GetData copies the current frame's metadata and a reference to its
	// pixel data into the image source
	GetData(*ImageSource) error
}
