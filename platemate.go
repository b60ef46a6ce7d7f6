package platemate

import (
	"fmt"
	"net/http"

	"github.com/chriskillpack/platemate/analyzer"
	"github.com/chriskillpack/platemate/internal/gemini"
	"github.com/chriskillpack/platemate/internal/llama"
)

type InitOptions struct {
	GeminiAPIKey  string
	GeminiModel   string // defaults to gemini.DefaultModel
	GeminiBaseURL string // defaults to gemini.DefaultBaseURL
	GeminiRPM     int    // client side requests per minute, 0 disables

	LlamaServer string
	LlamaSeed   int

	HttpClient *http.Client // if nil uses http.DefaultClient
}

type Platemate struct {
	analyzer.Analyzer
}

// Init selects the model backend. Exactly one of GeminiAPIKey and LlamaServer
// must be set.
func Init(pio InitOptions) (*Platemate, error) {
	p := &Platemate{}

	httpClient := pio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var n int
	if pio.GeminiAPIKey != "" {
		n++
	}
	if pio.LlamaServer != "" {
		n++
	}
	switch n {
	case 0:
		return nil, fmt.Errorf("no backend selected")
	case 1:
		// no-op
	default:
		return nil, fmt.Errorf("multiple backends selected, only one allowed")
	}

	if pio.GeminiAPIKey != "" {
		p.Analyzer = gemini.Init(gemini.Options{
			APIKey:            pio.GeminiAPIKey,
			Model:             pio.GeminiModel,
			BaseURL:           pio.GeminiBaseURL,
			RequestsPerMinute: pio.GeminiRPM,
		}, httpClient)
	} else {
		p.Analyzer = llama.Init(pio.LlamaServer, pio.LlamaSeed, httpClient)
	}

	return p, nil
}
