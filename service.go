package platemate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/chriskillpack/platemate/analyzer"
	"github.com/chriskillpack/platemate/internal/imaging"
)

// StorageError is a failure of the response cache. It is fatal to the
// submission that hit it.
type StorageError struct {
	Op  string // "lookup" or "store"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("response cache %s failed: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Result is the outcome of a successful analysis.
type Result struct {
	Fingerprint string
	Text        string
	Cached      bool // served from the response cache
}

// Service answers submissions, calling the model only for (image, prompt)
// pairs it has not seen before.
type Service struct {
	a  analyzer.Analyzer
	db *DB

	instructions string
	maxMPXS      float64
	logger       zerolog.Logger

	group       singleflight.Group
	callTimeout time.Duration
	now         func() time.Time
}

// DefaultCallTimeout bounds a shared model call once it no longer belongs to
// any single caller.
const DefaultCallTimeout = 2 * time.Minute

type ServiceOption func(*Service)

// WithLogger sets the logger used for per-submission logging.
func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMaxMegapixels shrinks images larger than mpxs before they are sent to
// the model. The fingerprint is always taken from the original upload.
func WithMaxMegapixels(mpxs float64) ServiceOption {
	return func(s *Service) { s.maxMPXS = mpxs }
}

// WithInstructions replaces NutritionInstructions.
func WithInstructions(instr string) ServiceOption {
	return func(s *Service) { s.instructions = instr }
}

// WithCallTimeout bounds each model call, independent of the callers waiting
// on it.
func WithCallTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.callTimeout = d }
}

func NewService(a analyzer.Analyzer, db *DB, opts ...ServiceOption) *Service {
	s := &Service{
		a:            a,
		db:           db,
		instructions: NutritionInstructions,
		logger:       zerolog.Nop(),
		callTimeout:  DefaultCallTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyzer returns the backend the service calls on a cache miss.
func (s *Service) Analyzer() analyzer.Analyzer { return s.a }

// Analyze returns the response for sub, from the cache if possible. Errors
// are one of ErrNoImage or a validation error (bad input, nothing was done),
// *analyzer.RemoteError or analyzer.ErrEmptyResponse (model failed, nothing was
// cached) or *StorageError.
func (s *Service) Analyze(ctx context.Context, sub Submission) (*Result, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	sub.MIMEType = imaging.NormalizeMIME(sub.MIMEType)

	fp, err := Fingerprint(sub.Image)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With().
		Str("request_id", uuid.NewString()).
		Str("hash", fp[:12]).
		Logger()

	desc, ok, err := s.db.Lookup(ctx, fp, sub.Prompt)
	if err != nil {
		CacheErrors.WithLabelValues("lookup").Inc()
		logger.Error().Err(err).Msg("cache lookup failed")
		return nil, &StorageError{Op: "lookup", Err: err}
	}
	if ok {
		CacheHits.Inc()
		logger.Debug().Msg("cache hit")
		return &Result{Fingerprint: fp, Text: desc, Cached: true}, nil
	}
	CacheMisses.Inc()
	logger.Debug().Msg("cache miss")

	// Identical submissions arriving together share one model call. The call
	// outlives any one caller so the others still get the response, and it
	// is cached even if everyone gave up.
	key := fp + "\x00" + sub.Prompt
	ch := s.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
		defer cancel()
		return s.analyzeAndStore(callCtx, logger, fp, sub)
	})

	select {
	case <-ctx.Done():
		logger.Debug().Err(ctx.Err()).Msg("caller gave up waiting for analysis")
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			logger.Debug().Msg("joined in-flight analysis")
		}
		return &Result{Fingerprint: fp, Text: r.Val.(string)}, nil
	}
}

func (s *Service) analyzeAndStore(ctx context.Context, logger zerolog.Logger, fp string, sub Submission) (string, error) {
	// A flight for this key may have completed between our lookup and now
	desc, ok, err := s.db.Lookup(ctx, fp, sub.Prompt)
	if err != nil {
		CacheErrors.WithLabelValues("lookup").Inc()
		logger.Error().Err(err).Msg("cache lookup failed")
		return "", &StorageError{Op: "lookup", Err: err}
	}
	if ok {
		return desc, nil
	}

	data := sub.Image
	if s.maxMPXS > 0 {
		small, resized, err := imaging.Downscale(sub.Image, s.maxMPXS)
		if err != nil {
			// The model may still cope with the original
			logger.Warn().Err(err).Msg("could not downscale image, sending original")
		} else if resized {
			logger.Debug().Int("from", len(sub.Image)).Int("to", len(small)).Msg("downscaled image")
			data = small
		}
	}

	start := time.Now()
	text, err := s.a.Analyze(ctx, analyzer.Request{
		Prompt:       sub.Prompt,
		Instructions: s.instructions,
		Image: analyzer.Image{
			MIMEType: sub.MIMEType,
			Data:     data,
		},
	})
	ModelDuration.WithLabelValues(s.a.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		var re *analyzer.RemoteError
		if errors.As(err, &re) {
			outcome = string(re.Class)
		}
		ModelCalls.WithLabelValues(s.a.Name(), outcome).Inc()
		logger.Error().Err(err).Str("backend", s.a.Name()).Msg("model call failed")
		return "", err
	}
	ModelCalls.WithLabelValues(s.a.Name(), "ok").Inc()
	logger.Info().
		Str("backend", s.a.Name()).
		Str("model", s.a.Model()).
		Dur("duration", time.Since(start)).
		Msg("model call succeeded")

	text = FilterNegativeLines(text)

	inserted, err := s.db.Store(ctx, Entry{
		Hash:        fp,
		Prompt:      sub.Prompt,
		Description: text,
		Model:       s.a.Model(),
		CreatedAt:   s.now(),
	})
	if err != nil {
		CacheErrors.WithLabelValues("store").Inc()
		logger.Error().Err(err).Msg("cache store failed")
		return "", &StorageError{Op: "store", Err: err}
	}
	if !inserted {
		// Lost a race with another writer. Their entry wins.
		logger.Debug().Msg("entry already cached, keeping existing")
		if existing, ok, err := s.db.Lookup(ctx, fp, sub.Prompt); err == nil && ok {
			text = existing
		}
	}

	return text, nil
}
