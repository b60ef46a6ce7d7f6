package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chriskillpack/platemate"
	"github.com/chriskillpack/platemate/analyzer"
)

type fakeAnalyzer struct {
	calls   atomic.Int32
	reply   string
	err     error
	healthy bool
}

func (f *fakeAnalyzer) Name() string                       { return "fake" }
func (f *fakeAnalyzer) Model() string                      { return "fake-model" }
func (f *fakeAnalyzer) IsHealthy(ctx context.Context) bool { return f.healthy }

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (string, error) {
	f.calls.Add(1)
	return f.reply, f.err
}

func newTestServer(t *testing.T, fa *fakeAnalyzer) *Server {
	t.Helper()
	db, err := platemate.NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	return NewServer(platemate.NewService(fa, db), "127.0.0.1:0", 1<<20, 5*time.Second)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// uploadRequest builds the multipart POST the form makes. A nil image
// mimics submitting with no file chosen.
func uploadRequest(t *testing.T, prompt string, image []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	mw.WriteField("input", prompt)
	if image != nil {
		fw, err := mw.CreateFormFile("image", "meal.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(image)
	} else {
		// Browsers send an empty part with no filename
		mw.WriteField("image", "")
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServeRoot(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{})

	rec := httptest.NewRecorder()
	srv.serveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Gemini Health App", "Input Prompt: ", "Tell me the total calories", `accept=".jpg,.jpeg,.png`} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected page to contain %q", want)
		}
	}
}

func TestServeAnalyze(t *testing.T) {
	fa := &fakeAnalyzer{reply: "1. Item 1 - Rice\nSorry, I cannot tell\nTotal Calories: 400 kcal"}
	srv := newTestServer(t, fa)
	h := srv.serveHandler()
	img := pngBytes(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "Tell me the macros", img))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"The Response is:", "1. Item 1 - Rice", "Total Calories: 400 kcal", `src="data:image/png;base64,`, "Uploaded Image."} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected response to contain %q", want)
		}
	}
	if strings.Contains(body, "Sorry") {
		t.Errorf("Expected negative line to be filtered")
	}
	if strings.Contains(body, "Served from cache") {
		t.Errorf("Expected first response not to be cached")
	}

	// Same image and prompt again
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "Tell me the macros", img))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Served from cache") {
		t.Errorf("Expected second response to be served from cache")
	}
	if expected, actual := int32(1), fa.calls.Load(); expected != actual {
		t.Errorf("Expected %d model calls, got %d", expected, actual)
	}
}

func TestServeAnalyzeNoImage(t *testing.T) {
	fa := &fakeAnalyzer{reply: "T"}
	srv := newTestServer(t, fa)

	rec := httptest.NewRecorder()
	srv.serveHandler().ServeHTTP(rec, uploadRequest(t, "Tell me the macros", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), noImageMessage) {
		t.Errorf("Expected %q in page", noImageMessage)
	}
	if fa.calls.Load() != 0 {
		t.Errorf("Expected no model calls")
	}
}

func TestServeAnalyzeRemoteError(t *testing.T) {
	fa := &fakeAnalyzer{err: &analyzer.RemoteError{
		Backend:    "fake",
		StatusCode: http.StatusTooManyRequests,
		Class:      analyzer.ErrorClassQuota,
		Message:    "Resource has been exhausted",
	}}
	srv := newTestServer(t, fa)

	rec := httptest.NewRecorder()
	srv.serveHandler().ServeHTTP(rec, uploadRequest(t, "", pngBytes(t)))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Resource has been exhausted") {
		t.Errorf("Expected the remote error to be shown")
	}
}

func TestServeAnalyzeTimeout(t *testing.T) {
	fa := &fakeAnalyzer{err: &analyzer.RemoteError{
		Backend: "fake",
		Class:   analyzer.ErrorClassNetwork,
		Message: context.DeadlineExceeded.Error(),
		Err:     context.DeadlineExceeded,
	}}
	srv := newTestServer(t, fa)

	rec := httptest.NewRecorder()
	srv.serveHandler().ServeHTTP(rec, uploadRequest(t, "", pngBytes(t)))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected 504, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "took too long") {
		t.Errorf("Expected the timeout message to be shown")
	}
}

func TestServeAnalyzeWrongType(t *testing.T) {
	fa := &fakeAnalyzer{reply: "T"}
	srv := newTestServer(t, fa)

	rec := httptest.NewRecorder()
	srv.serveHandler().ServeHTTP(rec, uploadRequest(t, "", []byte("GIF89a not really")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if fa.calls.Load() != 0 {
		t.Errorf("Expected no model calls")
	}
}

func TestServeHealth(t *testing.T) {
	for _, healthy := range []bool{true, false} {
		srv := newTestServer(t, &fakeAnalyzer{healthy: healthy})
		rec := httptest.NewRecorder()
		srv.serveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		want := http.StatusOK
		if !healthy {
			want = http.StatusServiceUnavailable
		}
		if rec.Code != want {
			t.Errorf("healthy=%t: expected %d, got %d", healthy, want, rec.Code)
		}
	}
}

func TestServeMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{})
	rec := httptest.NewRecorder()
	srv.serveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "platemate_cache_misses_total") {
		t.Errorf("Expected platemate metrics to be exported")
	}
}

func TestSplitByNewline(t *testing.T) {
	got := splitByNewline("1. Rice  \n\n----\r\nTotal Calories: 400 kcal\n")
	want := []string{"1. Rice", "----", "Total Calories: 400 kcal"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	img := pngBytes(t)
	for _, name := range []string{"a.png", "b.PNG", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), img, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sub := filepath.Join(dir, "lunch")
	os.Mkdir(sub, 0o755)
	os.WriteFile(filepath.Join(sub, "c.jpg"), []byte("\xff\xd8\xff\xe0 jpeg"), 0o644)

	photos, err := findImageFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if expected, actual := 3, len(photos); expected != actual {
		t.Fatalf("Expected %d photos, got %d: %v", expected, actual, photos)
	}

	fa := &fakeAnalyzer{reply: "T"}
	db, err := platemate.NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	svc := platemate.NewService(fa, db)

	var steps int
	st := runBatch(t.Context(), svc, photos, "", func() { steps++ })
	if st.err != nil {
		t.Fatal(st.err)
	}
	if st.analyzed != 3 || st.failed != 0 || steps != 3 {
		t.Errorf("Unexpected stats %+v steps=%d", st, steps)
	}
	// a.png and b.PNG have the same bytes
	if expected, actual := 1, st.cached; expected != actual {
		t.Errorf("Expected %d cached, got %d", expected, actual)
	}
	if expected, actual := int32(2), fa.calls.Load(); expected != actual {
		t.Errorf("Expected %d model calls, got %d", expected, actual)
	}
}

func TestRunBatchTooManyErrors(t *testing.T) {
	photos := make([]string, 8)
	for i := range photos {
		photos[i] = filepath.Join(t.TempDir(), "missing.jpg")
	}

	db, err := platemate.NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	svc := platemate.NewService(&fakeAnalyzer{reply: "T"}, db)

	st := runBatch(t.Context(), svc, photos, "", func() {})
	if st.err == nil {
		t.Fatal("Expected batch to give up")
	}
	if expected, actual := maxBatchErrors, st.failed; expected != actual {
		t.Errorf("Expected %d failures, got %d", expected, actual)
	}
}

func TestSighandlerLameduck(t *testing.T) {
	t.Cleanup(func() { lameduck.Store(false) })

	ch := make(chan os.Signal)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sighandler(ch, cancel)
		close(done)
	}()

	ch <- os.Interrupt
	ch <- os.Interrupt // handled only after the first one set lameduck
	<-done
	if !lameduck.Load() {
		t.Error("Expected lame duck after the first interrupt")
	}
	if ctx.Err() == nil {
		t.Error("Expected the second interrupt to cancel")
	}

	db, err := platemate.NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	fa := &fakeAnalyzer{reply: "T"}
	st := runBatch(t.Context(), platemate.NewService(fa, db), []string{"a.png"}, "", func() {})
	if st.analyzed != 0 || fa.calls.Load() != 0 {
		t.Errorf("Expected nothing to run in lame duck, got %+v", st)
	}
}
