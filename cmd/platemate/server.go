package main

import (
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"html/template"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriskillpack/platemate"
	"github.com/chriskillpack/platemate/analyzer"
	"github.com/chriskillpack/platemate/internal/imaging"
	"github.com/chriskillpack/platemate/internal/logging"
)

const noImageMessage = "Please upload an image to proceed."

var (
	//go:embed tmpl/*.html
	tmplFS embed.FS

	//go:embed static
	staticFS embed.FS

	indexTmpl *template.Template
)

func init() {
	indexTmpl = template.Must(template.ParseFS(tmplFS, "tmpl/index.html"))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := NewServer(a.svc, a.cfg.Listen, a.cfg.MaxUploadBytes, a.cfg.RequestTimeout)
		srv.logger.Info().
			Str("addr", a.cfg.Listen).
			Str("backend", a.svc.Analyzer().Name()).
			Str("model", a.svc.Analyzer().Model()).
			Str("db", a.db.Path()).
			Msg("starting server")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			srv.logger.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})

		return g.Wait()
	},
}

type Server struct {
	hs     *http.Server
	svc    *platemate.Service
	logger zerolog.Logger

	maxUpload int64
	timeout   time.Duration
}

func NewServer(svc *platemate.Service, addr string, maxUpload int64, timeout time.Duration) *Server {
	srv := &Server{
		svc:       svc,
		logger:    logging.NewLogger("server"),
		maxUpload: maxUpload,
		timeout:   timeout,
	}

	srv.hs = &http.Server{
		Addr:              addr,
		Handler:           srv.serveHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	return s.hs.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}

func (s *Server) serveHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.FileServerFS(staticFS))
	mux.Handle("POST /analyze", s.serveAnalyze())
	mux.Handle("GET /healthz", s.serveHealth())
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /{$}", s.serveRoot())

	return mux
}

// page is the data for tmpl/index.html.
type page struct {
	Prompt string
	Error  string

	ImageURL template.URL // data URL preview of the upload
	Response []string     // response text split into lines
	Cached   bool
}

func (s *Server) render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTmpl.Execute(w, p); err != nil {
		s.logger.Error().Err(err).Msg("rendering page")
	}
}

func (s *Server) serveRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s.render(w, http.StatusOK, page{})
	}
}

func (s *Server) serveHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		if !s.svc.Analyzer().IsHealthy(ctx) {
			http.Error(w, "model backend unavailable", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok\n")
	}
}

func (s *Server) serveAnalyze() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, s.maxUpload)
		if err := req.ParseMultipartForm(s.maxUpload); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				s.render(w, http.StatusRequestEntityTooLarge, page{Error: "That image is too large."})
				return
			}
			s.render(w, http.StatusBadRequest, page{Error: err.Error()})
			return
		}

		p := page{Prompt: req.FormValue("input")}

		file, hdr, err := req.FormFile("image")
		if err != nil {
			p.Error = noImageMessage
			s.render(w, http.StatusBadRequest, p)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			p.Error = err.Error()
			s.render(w, http.StatusBadRequest, p)
			return
		}

		// Trust the bytes over the browser's claim
		mimeType := imaging.SniffMIME(data)
		if !imaging.Allowed(mimeType) {
			mimeType = hdr.Header.Get("Content-Type")
		}

		ctx, cancel := context.WithTimeout(req.Context(), s.timeout)
		defer cancel()

		res, err := s.svc.Analyze(ctx, platemate.Submission{
			Prompt:   p.Prompt,
			MIMEType: mimeType,
			Image:    data,
		})
		if err != nil {
			status, msg := s.classify(err)
			p.Error = msg
			s.render(w, status, p)
			return
		}

		p.ImageURL = template.URL("data:" + imaging.NormalizeMIME(mimeType) + ";base64," + base64.StdEncoding.EncodeToString(data))
		p.Response = splitByNewline(res.Text)
		p.Cached = res.Cached
		s.render(w, http.StatusOK, p)
	}
}

// classify maps an Analyze error to an HTTP status and a message for the
// user.
func (s *Server) classify(err error) (int, string) {
	var (
		re *analyzer.RemoteError
		se *platemate.StorageError
	)
	switch {
	case errors.Is(err, platemate.ErrNoImage), errors.Is(err, platemate.ErrEmptyImage):
		return http.StatusBadRequest, noImageMessage
	case errors.Is(err, context.DeadlineExceeded):
		// Backends wrap timeouts in a RemoteError
		return http.StatusGatewayTimeout, "The model took too long to respond, please try again."
	case errors.As(err, &re):
		return http.StatusBadGateway, "The model service failed: " + re.Message
	case errors.Is(err, analyzer.ErrEmptyResponse):
		return http.StatusBadGateway, "The model returned an empty response, please try again."
	case errors.As(err, &se):
		return http.StatusInternalServerError, "The response cache is unavailable: " + se.Err.Error()
	default:
		// Validation failures
		return http.StatusBadRequest, err.Error()
	}
}

// Splits s into separate substrings by newline character. Each substring is
// trimmed of trailing whitespace, empty lines are dropped.
func splitByNewline(s string) []string {
	var sections []string
	for p := range strings.SplitSeq(s, "\n") {
		p = strings.TrimRight(p, " \t\r")
		if p != "" {
			sections = append(sections, p)
		}
	}

	return sections
}
