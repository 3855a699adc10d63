// Package camera exposes a map generator over HTTP
package camera

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"github.com/astrogo/fitsio"
	"go.uber.org/zap"

	"github.com/hcitlab/irgen/camera"
	"github.com/hcitlab/irgen/generichttp"
	"github.com/hcitlab/irgen/imgrec"
	"github.com/hcitlab/irgen/openni"
)

// HeaderVersion is written to the FITS header of every frame
const HeaderVersion = "irgen-1"

// ErrorState is the JSON form of a node error status
type ErrorState struct {
	Code uint32 `json:"code"`
	Name string `json:"name"`
}

// Resolution is the JSON form of a map resolution
type Resolution struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

// HTTPCamera wraps a map generator in an HTTP route table
type HTTPCamera struct {
	Gen camera.MapGenerator

	// Rec receives FITS frames while it is active; may be nil
	Rec *imgrec.Recorder

	// Session is written to the FITS header, empty to omit
	Session string

	// Log receives recorder failures; nil discards them
	Log *zap.Logger

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around a map generator.
// When rec is not nil its /autowrite routes are injected too.
func NewHTTPCamera(gen camera.MapGenerator, rec *imgrec.Recorder) *HTTPCamera {
	h := &HTTPCamera{Gen: gen, Rec: rec, RouteTable: generichttp.RouteTable{}}
	HTTPMapGenerator(h, h.RouteTable)
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPMapGenerator injects HTTP methods into a route table for a map generator
func HTTPMapGenerator(h *HTTPCamera, table generichttp.RouteTable) {
	g := h.Gen
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/generating"}] = generichttp.GetBool(generichttp.Infallible(g.IsGenerating))
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/generating"}] = generichttp.SetBool(func(b bool) error {
		if b {
			return g.StartGenerating()
		}
		return g.StopGenerating()
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/mirror"}] = generichttp.GetBool(generichttp.Infallible(g.IsMirrored))
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/mirror"}] = generichttp.SetBool(g.SetMirroring)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/output-mode"}] = GetOutputMode(g)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-mode"}] = SetOutputMode(g)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/fps"}] = generichttp.GetInt(g.GetFramesPerSecond)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/resolution"}] = GetResolution(g)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/error-state"}] = GetErrorState(g)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/timestamp"}] = generichttp.GetInt(func() (int, error) {
		t, err := g.GetTimestamp()
		return int(t), err
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/metadata"}] = GetMetadata(g)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = func(w http.ResponseWriter, r *http.Request) {
		GetFrame(g, h.Rec, h.Session, h.Log)(w, r)
	}
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetOutputMode returns the output mode as {"xres", "yres", "fps"}
func GetOutputMode(g camera.MapGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, err := g.GetOutputMode()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, mode)
	}
}

// SetOutputMode sets the output mode from a JSON body {"xres", "yres", "fps"}
func SetOutputMode(g camera.MapGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := openni.MapOutputMode{}
		err := json.NewDecoder(r.Body).Decode(&mode)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = g.SetOutputMode(mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetResolution returns the map resolution as {"x", "y"}
func GetResolution(g camera.MapGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		x, y, err := g.GetMapResolution()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, Resolution{X: x, Y: y})
	}
}

// GetErrorState returns the node's error state as {"code", "name"}.
// An error state is a successful answer, not a failed request.
func GetErrorState(g camera.MapGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := g.GetErrorState()
		respondJSON(w, ErrorState{Code: uint32(s), Name: s.Name()})
	}
}

// GetMetadata returns the description of the current frame without its pixels
func GetMetadata(g camera.MapGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := camera.ImageSource{}
		err := g.GetData(&src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, src.Metadata())
	}
}

// GetFrame returns the current frame on a GET request.
//
// the image format may be specified in the fmt query parameter, one of
// jpg, png, or fits; default to jpg.  jpg is 8 bits, stretched to the
// brightest pixel.  png is 16 bits.
//
// fits frames carry the frame description in their header, and are also
// written to rec when it is active.  A failed recorder write is logged and
// does not affect the response.
func GetFrame(g camera.MapGenerator, rec *imgrec.Recorder, session string, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		src := camera.ImageSource{}
		err := g.GetData(&src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "jpg"
		}
		buf := &bytes.Buffer{}
		var contentType string
		switch format {
		case "jpg", "jpeg":
			contentType = "image/jpeg"
			im, err2 := src.Gray()
			if err = err2; err == nil {
				err = jpeg.Encode(buf, im, nil)
			}
		case "png":
			contentType = "image/png"
			im, err2 := src.Gray16()
			if err = err2; err == nil {
				err = png.Encode(buf, im)
			}
		case "fits":
			contentType = "image/fits"
			err = encodeFits(buf, &src, session)
		default:
			http.Error(w, "unknown image format "+format+", use jpg, png or fits", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if format == "fits" && rec != nil && rec.Active() {
			rec.Begin()
			_, err = rec.Write(buf.Bytes())
			fn := rec.Filename()
			rec.Incr()
			if err != nil {
				log.Error("recording frame", zap.String("file", fn), zap.Error(err))
			}
		}

		hdr := w.Header()
		hdr.Set("Content-Type", contentType)
		if format == "fits" {
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		}
		w.WriteHeader(http.StatusOK)
		if _, err = w.Write(buf.Bytes()); err != nil {
			log.Debug("sending frame", zap.Error(err))
		}
	}
}

// encodeFits writes src as a single fits frame with its description in the header
func encodeFits(w io.Writer, src *camera.ImageSource, session string) error {
	px, err := src.Pixels()
	if err != nil {
		return err
	}
	cards := []fitsio.Card{{Name: "HDRVER", Value: HeaderVersion, Comment: "header version"}}
	if session != "" {
		cards = append(cards, fitsio.Card{Name: "SESSION", Value: session, Comment: "server session id"})
	}
	cards = append(cards, src.Cards()...)
	x, y := src.CroppedResolution()
	return WriteFits(w, cards, int(x), int(y), px)
}
