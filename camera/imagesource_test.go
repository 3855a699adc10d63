package camera

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGray16IsBigEndian(t *testing.T) {
	s := ImageSource{}
	s.SetCroppedResolution(2, 1)
	s.SetData([]uint16{0x0102, 0x0304})
	im, err := s.Gray16()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, im.Pix); diff != "" {
		t.Errorf("unexpected pixel bytes (-want +got):\n%s", diff)
	}
}

func TestGrayStretchesToMax(t *testing.T) {
	s := ImageSource{}
	s.SetCroppedResolution(3, 1)
	s.SetData([]uint16{0, 512, 1023})
	im, err := s.Gray()
	if err != nil {
		t.Fatal(err)
	}
	if im.Pix[0] != 0 || im.Pix[2] != 255 {
		t.Errorf("expected 0 and 255 at the ends, got %v", im.Pix)
	}
}

func TestShortDataIsAnError(t *testing.T) {
	s := ImageSource{}
	s.SetCroppedResolution(4, 4)
	s.SetData(make([]uint16, 3))
	if _, err := s.Pixels(); !errors.Is(err, ErrShortData) {
		t.Errorf("expected ErrShortData, got %v", err)
	}
}

func TestMetadataCarriesEveryField(t *testing.T) {
	s := ImageSource{}
	s.SetFullResolution(640, 480)
	s.SetCroppedResolution(320, 240)
	s.SetCroppingOffset(8, 16)
	s.SetTimestamp(1234)
	s.SetFrameID(7)
	s.SetBytesPerPixel(2)
	s.SetCropping(true)
	s.SetMirroring(true)
	want := Metadata{
		FullXRes: 640, FullYRes: 480,
		XRes: 320, YRes: 240,
		XOffset: 8, YOffset: 16,
		Timestamp: 1234, FrameID: 7, BytesPerPixel: 2,
		Cropped: true, Mirrored: true,
	}
	if diff := cmp.Diff(want, s.Metadata()); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	if len(s.Cards()) != 9 {
		t.Errorf("expected 9 FITS cards, got %d", len(s.Cards()))
	}
}
