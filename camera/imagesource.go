package camera

import (
	"errors"
	"fmt"
	"image"

	"github.com/astrogo/fitsio"
)

// ErrShortData is generated when the pixel data is smaller than the cropped resolution
var ErrShortData = errors.New("image source holds fewer pixels than its resolution")

// ImageSource receives one frame of 16-bit map data and its description.
// The data slice is a reference; ImageSource never copies or owns it.
type ImageSource struct {
	data []uint16

	fullX, fullY uint32
	x, y         uint32
	offX, offY   uint32

	timestamp     uint64
	frameID       uint32
	bytesPerPixel uint32

	cropped  bool
	mirrored bool
}

// Metadata is the JSON view of an ImageSource without its pixels
type Metadata struct {
	FullXRes      uint32 `json:"fullXRes"`
	FullYRes      uint32 `json:"fullYRes"`
	XRes          uint32 `json:"xRes"`
	YRes          uint32 `json:"yRes"`
	XOffset       uint32 `json:"xOffset"`
	YOffset       uint32 `json:"yOffset"`
	Timestamp     uint64 `json:"timestamp"`
	FrameID       uint32 `json:"frameID"`
	BytesPerPixel uint32 `json:"bytesPerPixel"`
	Cropped       bool   `json:"cropped"`
	Mirrored      bool   `json:"mirrored"`
}

// SetData stores a reference to the pixel data, row major
func (s *ImageSource) SetData(d []uint16) { s.data = d }

// SetFullResolution sets the sensor resolution before cropping
func (s *ImageSource) SetFullResolution(x, y uint32) { s.fullX, s.fullY = x, y }

// SetCroppedResolution sets the resolution of the data actually held
func (s *ImageSource) SetCroppedResolution(x, y uint32) { s.x, s.y = x, y }

// SetCroppingOffset sets the top left corner of the crop within the full frame
func (s *ImageSource) SetCroppingOffset(x, y uint32) { s.offX, s.offY = x, y }

// SetTimestamp sets the device timestamp of the frame, in microseconds
func (s *ImageSource) SetTimestamp(t uint64) { s.timestamp = t }

// SetFrameID sets the frame number
func (s *ImageSource) SetFrameID(id uint32) { s.frameID = id }

// SetBytesPerPixel sets the pixel size
func (s *ImageSource) SetBytesPerPixel(b uint32) { s.bytesPerPixel = b }

// SetCropping records whether the frame is a crop of the sensor
func (s *ImageSource) SetCropping(b bool) { s.cropped = b }

// SetMirroring records whether the frame was mirrored horizontally
func (s *ImageSource) SetMirroring(b bool) { s.mirrored = b }

// Data returns the pixel data as stored, which may be longer than the cropped resolution
func (s *ImageSource) Data() []uint16 { return s.data }

// FullResolution returns the sensor resolution
func (s *ImageSource) FullResolution() (uint32, uint32) { return s.fullX, s.fullY }

// CroppedResolution returns the resolution of the held frame
func (s *ImageSource) CroppedResolution() (uint32, uint32) { return s.x, s.y }

// CroppingOffset returns the crop's top left corner
func (s *ImageSource) CroppingOffset() (uint32, uint32) { return s.offX, s.offY }

// Timestamp returns the device timestamp
func (s *ImageSource) Timestamp() uint64 { return s.timestamp }

// FrameID returns the frame number
func (s *ImageSource) FrameID() uint32 { return s.frameID }

// BytesPerPixel returns the pixel size
func (s *ImageSource) BytesPerPixel() uint32 { return s.bytesPerPixel }

// IsCropped reports if the frame is a crop of the sensor
func (s *ImageSource) IsCropped() bool { return s.cropped }

// IsMirrored reports if the frame is mirrored
func (s *ImageSource) IsMirrored() bool { return s.mirrored }

// Metadata returns the descriptive fields of the frame
func (s *ImageSource) Metadata() Metadata {
	return Metadata{
		FullXRes:      s.fullX,
		FullYRes:      s.fullY,
		XRes:          s.x,
		YRes:          s.y,
		XOffset:       s.offX,
		YOffset:       s.offY,
		Timestamp:     s.timestamp,
		FrameID:       s.frameID,
		BytesPerPixel: s.bytesPerPixel,
		Cropped:       s.cropped,
		Mirrored:      s.mirrored,
	}
}

// Pixels returns the first XRes*YRes values of the data, row major
func (s *ImageSource) Pixels() ([]uint16, error) {
	n := int(s.x) * int(s.y)
	if len(s.data) < n {
		return nil, fmt.Errorf("%w: have %d, need %dx%d", ErrShortData, len(s.data), s.x, s.y)
	}
	return s.data[:n], nil
}

// Gray16 renders the cropped frame as an image.  The pixels are copied.
func (s *ImageSource) Gray16() (*image.Gray16, error) {
	px, err := s.Pixels()
	if err != nil {
		return nil, err
	}
	im := image.NewGray16(image.Rect(0, 0, int(s.x), int(s.y)))
	for i, v := range px {
		// Gray16 is big endian
		im.Pix[2*i] = byte(v >> 8)
		im.Pix[2*i+1] = byte(v)
	}
	return im, nil
}

// Gray renders the cropped frame as an 8-bit image, stretched so the
// brightest pixel is white.  IR maps rarely use the top bits.
func (s *ImageSource) Gray() (*image.Gray, error) {
	px, err := s.Pixels()
	if err != nil {
		return nil, err
	}
	var max uint16
	for _, v := range px {
		if v > max {
			max = v
		}
	}
	im := image.NewGray(image.Rect(0, 0, int(s.x), int(s.y)))
	if max == 0 {
		return im, nil
	}
	for i, v := range px {
		im.Pix[i] = byte(uint32(v) * 255 / uint32(max))
	}
	return im, nil
}

// Cards produces FITS header cards describing the frame
func (s *ImageSource) Cards() []fitsio.Card {
	return []fitsio.Card{
		{Name: "FULLX", Value: int(s.fullX), Comment: "uncropped width, px"},
		{Name: "FULLY", Value: int(s.fullY), Comment: "uncropped height, px"},
		{Name: "CROPX", Value: int(s.offX), Comment: "crop offset x, px"},
		{Name: "CROPY", Value: int(s.offY), Comment: "crop offset y, px"},
		{Name: "CROPPED", Value: s.cropped, Comment: "frame is cropped"},
		{Name: "MIRRORED", Value: s.mirrored, Comment: "frame is mirrored horizontally"},
		{Name: "TSTAMP", Value: int64(s.timestamp), Comment: "frame timestamp, us"},
		{Name: "FRAMEID", Value: int(s.frameID), Comment: "frame id"},
		{Name: "BPP", Value: int(s.bytesPerPixel), Comment: "bytes per pixel"},
	}
}
