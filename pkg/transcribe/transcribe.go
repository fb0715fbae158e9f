// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

// Package transcribe turns voice and video attachments into text. Media is
// downloaded to temp files, video audio is extracted with ffmpeg, and the
// resulting audio goes to a transcription provider. Temp files never outlive
// a single call.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/petrovich/pkg/logger"
	"github.com/dotsetgreg/petrovich/pkg/providers"
)

// ErrNoAudioTrack is returned for videos that carry no audio stream.
var ErrNoAudioTrack = errors.New("media has no audio track")

const downloadTimeout = 60 * time.Second

// Pipeline resolves attachment URLs into transcripts.
type Pipeline struct {
	transcriber providers.TranscriptionProvider
	httpClient  *http.Client
	tmpDir      string
}

func NewPipeline(transcriber providers.TranscriptionProvider, tmpDir string) *Pipeline {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Pipeline{
		transcriber: transcriber,
		httpClient:  &http.Client{Timeout: downloadTimeout},
		tmpDir:      tmpDir,
	}
}

// Voice downloads a voice attachment and transcribes it.
func (p *Pipeline) Voice(ctx context.Context, url, filename string) (string, error) {
	audioPath, err := p.download(ctx, url, filename)
	if err != nil {
		return "", err
	}
	defer removeTemp(audioPath)

	return p.transcriber.Transcribe(ctx, audioPath)
}

// Video downloads a video attachment, extracts its audio track, and
// transcribes it. Videos without audio yield ErrNoAudioTrack.
func (p *Pipeline) Video(ctx context.Context, url, filename string) (string, error) {
	videoPath, err := p.download(ctx, url, filename)
	if err != nil {
		return "", err
	}
	defer removeTemp(videoPath)

	hasAudio, err := hasAudioStream(ctx, videoPath)
	if err != nil {
		return "", fmt.Errorf("probe video: %w", err)
	}
	if !hasAudio {
		return "", ErrNoAudioTrack
	}

	audioPath := videoPath + ".mp3"
	if err := extractAudio(ctx, videoPath, audioPath); err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	defer removeTemp(audioPath)

	return p.transcriber.Transcribe(ctx, audioPath)
}

func (p *Pipeline) download(ctx context.Context, url, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(p.tmpDir, "petrovich-media-*"+safeExt(filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		removeTemp(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		removeTemp(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

// safeExt keeps the attachment extension so ffmpeg and the transcription API
// can sniff the container format, but refuses path separators.
func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

func removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WarnCF("transcribe", "Failed to remove temp file", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
	}
}

func hasAudioStream(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_streams",
		"-select_streams", "a",
		"-of", "json",
		path)
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("run ffprobe: %w", err)
	}
	return probeHasAudio(out)
}

func probeHasAudio(probeJSON []byte) (bool, error) {
	var probe struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(probeJSON, &probe); err != nil {
		return false, fmt.Errorf("parse ffprobe output: %w", err)
	}
	for _, stream := range probe.Streams {
		if stream.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}

func extractAudio(ctx context.Context, videoPath, audioPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "4",
		audioPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("run ffmpeg: %w (output: %s)", err, truncate(string(out), 500))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
