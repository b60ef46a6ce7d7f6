package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/chriskillpack/platemate/analyzer"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultModel = "gemini-1.5-flash-latest"

	// Google serves Gemini behind an OpenAI compatible API, which lets the
	// openai-go client talk to it.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

type Options struct {
	APIKey            string
	Model             string // defaults to DefaultModel
	BaseURL           string // defaults to DefaultBaseURL
	RequestsPerMinute int    // 0 disables client side rate limiting
}

type gemini struct {
	oac   *oagc.Client
	model string

	rl *rateLimiter // nil when unlimited
}

var _ analyzer.Analyzer = &gemini{}

func Init(opts Options, httpClient *http.Client) *gemini {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	g := &gemini{
		oac: oagc.NewClient(
			option.WithAPIKey(opts.APIKey),
			option.WithBaseURL(opts.BaseURL),
			option.WithHTTPClient(httpClient),
			// A failed submission is reported to the user, who can resubmit
			option.WithMaxRetries(0),
		),
		model: opts.Model,
	}
	if opts.RequestsPerMinute > 0 {
		g.rl = newRateLimiter(opts.RequestsPerMinute, time.Minute)
	}

	return g
}

func (g *gemini) Name() string { return "gemini" }

func (g *gemini) Model() string { return g.model }

func (g *gemini) IsHealthy(ctx context.Context) bool {
	_, err := g.oac.Models.List(ctx)
	return err == nil
}

func (g *gemini) Analyze(ctx context.Context, req analyzer.Request) (string, error) {
	// Rate limit use of the Gemini API
	if g.rl != nil {
		if err := g.rl.Acquire(ctx); err != nil {
			return "", err
		}
	}

	params := oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.SystemMessage(req.Instructions),
			oagc.UserMessageParts(
				oagc.TextPart(req.Prompt),
				oagc.ImagePart(dataURL(req.Image)),
			),
		}),
		Model: oagc.F(oagc.ChatModel(g.model)),
	}
	resp, err := g.oac.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", g.remoteError(err)
	}
	if len(resp.Choices) == 0 {
		return "", analyzer.ErrEmptyResponse
	}

	choice := resp.Choices[0]
	if string(choice.FinishReason) == "content_filter" {
		return "", &analyzer.RemoteError{
			Backend: g.Name(),
			Class:   analyzer.ErrorClassPolicy,
			Message: "response blocked by content policy",
		}
	}
	if choice.Message.Content == "" {
		return "", analyzer.ErrEmptyResponse
	}

	return choice.Message.Content, nil
}

// remoteError converts an error from the SDK into an *analyzer.RemoteError.
// Context cancellation is passed through unchanged.
func (g *gemini) remoteError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *oagc.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &analyzer.RemoteError{
			Backend:    g.Name(),
			StatusCode: apiErr.StatusCode,
			Class:      analyzer.ClassifyStatus(apiErr.StatusCode),
			Message:    msg,
			Err:        err,
		}
	}

	return &analyzer.RemoteError{
		Backend: g.Name(),
		Class:   analyzer.ErrorClassNetwork,
		Message: err.Error(),
		Err:     err,
	}
}

// dataURL encodes img as an RFC 2397 data URL, the form image parts are sent
// in.
func dataURL(img analyzer.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
