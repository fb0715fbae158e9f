package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/petrovich/pkg/config"
)

const transcriptionHTTPTimeout = 120 * time.Second

// WhisperTranscriber calls an OpenAI-compatible audio transcription endpoint
// and returns the plain-text transcript.
type WhisperTranscriber struct {
	apiBase    string
	model      string
	auth       AuthStrategy
	httpClient *http.Client
}

func NewWhisperTranscriber(cfg *config.Config) (*WhisperTranscriber, error) {
	if err := validateOpenAIConfig(cfg); err != nil {
		return nil, err
	}
	model := strings.TrimSpace(cfg.Agent.TranscribeModel)
	if model == "" {
		return nil, fmt.Errorf("agent.transcribe_model is required for transcription")
	}

	return &WhisperTranscriber{
		apiBase:    openAIAPIBase(cfg),
		model:      model,
		auth:       NewAPIKeyAuth(NewStaticTokenSource(cfg.Providers.OpenAI.APIKey, "providers.openai.api_key")),
		httpClient: &http.Client{Timeout: transcriptionHTTPTimeout},
	}, nil
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create multipart file field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio into request: %w", err)
	}
	if err := writer.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	endpoint := t.apiBase + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := t.auth.Apply(ctx, req); err != nil {
		return "", fmt.Errorf("apply transcription auth: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("transcription request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))
	}

	return strings.TrimSpace(string(body)), nil
}
