package llama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/chriskillpack/platemate/analyzer"
)

const (
	imagePreamble = `A chat between a curious human and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the human's questions.
`
	imageSuffix = `
ASSISTANT:`

	imageID = 10
)

type jsonmap map[string]any

// These were lifted from the web inspector for the server UI. n_predict is
// raised to fit a full itemized breakdown.
var defaultparams = jsonmap{
	"n_predict":         1024,
	"n_probs":           0,
	"temperature":       0.2,
	"stop":              []string{"</s>", "USER:", "ASSISTANT:"},
	"repeat_last_n":     256,
	"repeat_penalty":    1.18,
	"top_k":             40,
	"top_p":             0.5,
	"tfs_z":             1,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"mirostat":          0,
	"mirostat_tau":      5,
	"mirostat_eta":      0.1,
	"grammar":           "",
	"slot_id":           -1,
	"cache_prompt":      true,
}

type llama struct {
	srvAddr string
	seed    int

	client *http.Client
}

var _ analyzer.Analyzer = &llama{}

func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	return &llama{
		srvAddr: strings.TrimRight(srvAddr, "/"),
		seed:    seed,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

// Model is whatever model the llama.cpp server was started with, it cannot
// be chosen per request.
func (l *llama) Model() string { return "llava" }

func (l *llama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.srvAddr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (l *llama) Analyze(ctx context.Context, req analyzer.Request) (string, error) {
	imb64 := base64.StdEncoding.EncodeToString(req.Image.Data)
	text, err := l.sendRequest(ctx, imagePrompt(req.Instructions, req.Prompt), false, jsonmap{
		"image_data": []jsonmap{
			{
				"data": imb64, "id": imageID,
			},
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", analyzer.ErrEmptyResponse
	}

	return text, nil
}

// imagePrompt builds a llava chat prompt. The instructions take the place of
// the system turn, the image is referenced by id ahead of the user's text.
func imagePrompt(instructions, prompt string) string {
	var sb strings.Builder
	sb.WriteString(imagePreamble)
	sb.WriteString(strings.TrimSpace(instructions))
	sb.WriteString("\nUSER:")
	fmt.Fprintf(&sb, "[img-%d]", imageID)
	sb.WriteString(prompt)
	sb.WriteString(imageSuffix)
	return sb.String()
}

func (l *llama) remoteError(code int, msg string, err error) error {
	return &analyzer.RemoteError{
		Backend:    l.Name(),
		StatusCode: code,
		Class:      analyzer.ClassifyStatus(code),
		Message:    msg,
		Err:        err,
	}
}

func (l *llama) sendRequest(ctx context.Context, prompt string, stream bool, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["stream"] = stream
	data["seed"] = l.seed

	buf := bytes.NewBuffer(make([]byte, 0, 2_000_000)) // The buffer will be resized by Encode
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(&data)
	if err != nil {
		return "", err
	}
	br := bytes.NewReader(buf.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", br)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", l.remoteError(0, err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", l.remoteError(resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	content := new(bytes.Buffer)
	respbody := struct {
		Content string
		Stop    bool
	}{}

	lr := bufio.NewScanner(resp.Body)
	lr.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for !respbody.Stop {
		// Read in one line
		if !lr.Scan() {
			if err := lr.Err(); err != nil {
				return "", l.remoteError(0, err.Error(), err)
			}
			// Non-streaming replies may omit stop
			if !stream && content.Len() > 0 {
				break
			}
			return "", l.remoteError(0, "response ended early", io.ErrUnexpectedEOF)
		}
		line := lr.Text()
		// The empty line appears after a JSON body
		if len(line) == 0 {
			continue
		}
		if stream {
			var found bool
			line, found = strings.CutPrefix(line, "data: ")
			if !found {
				return "", fmt.Errorf("missing `data: ` prefix")
			}
		}

		if err := json.Unmarshal([]byte(line), &respbody); err != nil {
			return "", err
		}
		content.WriteString(respbody.Content)
	}

	return strings.TrimLeft(content.String(), " "), nil
}
