package camera

import (
	"bytes"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hcitlab/irgen/imgrec"
	"github.com/hcitlab/irgen/openni"
	"github.com/hcitlab/irgen/openni/ir"
)

type rig struct {
	node *openni.MockIRGenerator
	gen  *ir.Generator
	cam  *HTTPCamera
	srv  http.Handler
}

func newRig(t *testing.T, rec *imgrec.Recorder) *rig {
	t.Helper()
	node := openni.NewMockIRGenerator()
	gen := ir.New(node, nil)
	cam := NewHTTPCamera(gen, rec)
	cam.Session = "test-session"
	r := chi.NewRouter()
	cam.RT().Bind(r)
	return &rig{node: node, gen: gen, cam: cam, srv: r}
}

func (rg *rig) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	rg.srv.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func (rg *rig) frame(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, rg.do(http.MethodPost, "/generating", `{"bool":true}`).Code)
	require.True(t, rg.node.Tick())
}

func TestGeneratingRoundTrip(t *testing.T) {
	rg := newRig(t, nil)
	require.JSONEq(t, `{"bool":false}`, rg.do(http.MethodGet, "/generating", "").Body.String())
	require.Equal(t, http.StatusOK, rg.do(http.MethodPost, "/generating", `{"bool":true}`).Code)
	require.JSONEq(t, `{"bool":true}`, rg.do(http.MethodGet, "/generating", "").Body.String())
	require.Equal(t, http.StatusOK, rg.do(http.MethodPost, "/generating", `{"bool":false}`).Code)
	require.False(t, rg.node.IsGenerating())
}

func TestMirrorRoundTrip(t *testing.T) {
	rg := newRig(t, nil)
	require.Equal(t, http.StatusOK, rg.do(http.MethodPost, "/mirror", `{"bool":true}`).Code)
	require.JSONEq(t, `{"bool":true}`, rg.do(http.MethodGet, "/mirror", "").Body.String())
}

func TestOutputModeRoundTrip(t *testing.T) {
	rg := newRig(t, nil)
	w := rg.do(http.MethodPost, "/output-mode", `{"xres":320,"yres":240,"fps":30}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"xres":320,"yres":240,"fps":30}`, rg.do(http.MethodGet, "/output-mode", "").Body.String())
	require.JSONEq(t, `{"x":320,"y":240}`, rg.do(http.MethodGet, "/resolution", "").Body.String())
	require.JSONEq(t, `{"int":30}`, rg.do(http.MethodGet, "/fps", "").Body.String())
}

func TestOutputModeErrors(t *testing.T) {
	rg := newRig(t, nil)
	w := rg.do(http.MethodPost, "/output-mode", `{"xres":1,"yres":1,"fps":1}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "XN_STATUS_BAD_PARAM")

	w = rg.do(http.MethodPost, "/output-mode", `{"xres":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorState(t *testing.T) {
	rg := newRig(t, nil)
	require.JSONEq(t, `{"code":0,"name":"XN_STATUS_OK"}`, rg.do(http.MethodGet, "/error-state", "").Body.String())

	rg.node.SetErrorState(openni.StatusDeviceNotConnected)
	w := rg.do(http.MethodGet, "/error-state", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"code":65546,"name":"XN_STATUS_DEVICE_NOT_CONNECTED"}`, w.Body.String())

	// a persistent error fails device calls even when the call itself worked
	w = rg.do(http.MethodPost, "/mirror", `{"bool":true}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetadata(t *testing.T) {
	rg := newRig(t, nil)
	rg.frame(t)
	w := rg.do(http.MethodGet, "/metadata", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"frameID":1`)
	require.Contains(t, w.Body.String(), `"xRes":640`)
	require.Contains(t, w.Body.String(), `"bytesPerPixel":2`)
}

func TestImageFormats(t *testing.T) {
	rg := newRig(t, nil)
	rg.frame(t)

	w := rg.do(http.MethodGet, "/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	im, err := jpeg.Decode(w.Body)
	require.NoError(t, err)
	require.Equal(t, 640, im.Bounds().Dx())

	w = rg.do(http.MethodGet, "/image?fmt=png", "")
	require.Equal(t, http.StatusOK, w.Code)
	im, err = png.Decode(w.Body)
	require.NoError(t, err)
	require.Equal(t, 480, im.Bounds().Dy())

	w = rg.do(http.MethodGet, "/image?fmt=tiff", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImageBeforeFirstFrame(t *testing.T) {
	rg := newRig(t, nil)
	w := rg.do(http.MethodGet, "/image?fmt=png", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFitsHeaderAndRecorder(t *testing.T) {
	root := t.TempDir()
	rec := imgrec.New(root, "ir", true)
	rg := newRig(t, rec)
	rg.frame(t)

	w := rg.do(http.MethodGet, "/image?fmt=fits", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/fits", w.Header().Get("Content-Type"))

	f, err := fitsio.Open(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	hdr := f.HDU(0).Header()
	require.Equal(t, []int{640, 480}, hdr.Axes())
	require.Equal(t, "test-session", hdr.Get("SESSION").Value)
	require.NotNil(t, hdr.Get("FRAMEID"))
	require.NotNil(t, hdr.Get("MIRRORED"))

	matches, err := filepath.Glob(filepath.Join(root, "*", "ir000000.fits"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	disk, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Equal(t, w.Body.Bytes(), disk)

	// the next frame goes to the next file
	rg.do(http.MethodGet, "/image?fmt=fits", "")
	matches, _ = filepath.Glob(filepath.Join(root, "*", "ir000001.fits"))
	require.Len(t, matches, 1)
}

func TestAutowriteRoutesInjected(t *testing.T) {
	rg := newRig(t, imgrec.New("", "ir", false))
	require.JSONEq(t, `{"bool":false}`, rg.do(http.MethodGet, "/autowrite/enabled", "").Body.String())
	w := rg.do(http.MethodGet, "/list-of-routes", "")
	require.Contains(t, w.Body.String(), "POST /autowrite/root")
	require.Contains(t, w.Body.String(), "GET /image")
}

func TestWriteFitsCube(t *testing.T) {
	buf := &bytes.Buffer{}
	a := []uint16{0, 1, 2, 3, 4, 5}
	b := []uint16{6, 7, 8, 9, 10, 11}
	require.NoError(t, WriteFits(buf, nil, 3, 2, a, b))
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []int{3, 2, 2}, f.HDU(0).Header().Axes())

	require.ErrorIs(t, WriteFits(buf, nil, 3, 2), ErrNoFrames)
	require.Error(t, WriteFits(buf, nil, 3, 2, []uint16{1}))
}

func TestFailingRecorderDoesNotCutFrame(t *testing.T) {
	// a regular file as root makes every recorder write fail
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, nil, 0666))
	rg := newRig(t, imgrec.New(root, "ir", true))
	core, logs := observer.New(zapcore.DebugLevel)
	rg.cam.Log = zap.New(core)
	rg.frame(t)

	w := rg.do(http.MethodGet, "/image?fmt=fits", "")
	require.Equal(t, http.StatusOK, w.Code)
	f, err := fitsio.Open(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []int{640, 480}, f.HDU(0).Header().Axes())

	require.Equal(t, 1, logs.FilterMessage("recording frame").Len())
}

func TestConcurrentRoutesAndLock(t *testing.T) {
	node := openni.NewMockIRGenerator()
	sg := NewSyncGenerator(ir.New(node, nil))
	cam := NewHTTPCamera(sg, nil)
	r := chi.NewRouter()
	cam.RT().Bind(r)
	require.NoError(t, sg.StartGenerating())
	node.Tick()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := sg.LockGenerator(); err == nil {
					sg.UnlockGenerator()
				}
			}
		}()
		go func(on bool) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w := httptest.NewRecorder()
				body := `{"bool":false}`
				if on {
					body = `{"bool":true}`
				}
				r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mirror", strings.NewReader(body)))
			}
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				node.Tick()
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metadata", nil))
			}
		}()
	}
	wg.Wait()

	// every lock taken above was given back
	h, s := node.LockForChanges()
	require.Equal(t, openni.StatusOK, s)
	require.Equal(t, openni.StatusOK, node.UnlockForChanges(h))
}
