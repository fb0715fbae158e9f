package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

type stubTranscriber struct {
	transcript string
	seenPath   string
}

func (s *stubTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	s.seenPath = audioPath
	return s.transcript, nil
}

func TestVoice_DownloadsTranscribesAndCleansUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake-ogg-bytes"))
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	transcriber := &stubTranscriber{transcript: "привет от голосового"}
	pipeline := NewPipeline(transcriber, tmpDir)

	got, err := pipeline.Voice(context.Background(), server.URL, "voice.ogg")
	if err != nil {
		t.Fatalf("Voice: %v", err)
	}
	if got != "привет от голосового" {
		t.Errorf("transcript = %q", got)
	}
	if filepath.Ext(transcriber.seenPath) != ".ogg" {
		t.Errorf("downloaded file should keep extension, got %q", transcriber.seenPath)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestVoice_DownloadFailureLeavesNoTempFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	pipeline := NewPipeline(&stubTranscriber{}, tmpDir)

	if _, err := pipeline.Voice(context.Background(), server.URL, "voice.ogg"); err == nil {
		t.Fatal("expected download error")
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestProbeHasAudio(t *testing.T) {
	withAudio := []byte(`{"streams":[{"codec_type":"audio"}]}`)
	got, err := probeHasAudio(withAudio)
	if err != nil || !got {
		t.Errorf("probeHasAudio(withAudio) = %v, %v", got, err)
	}

	silent := []byte(`{"streams":[]}`)
	got, err = probeHasAudio(silent)
	if err != nil || got {
		t.Errorf("probeHasAudio(silent) = %v, %v", got, err)
	}

	if _, err := probeHasAudio([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestSafeExt(t *testing.T) {
	cases := map[string]string{
		"voice.ogg":           ".ogg",
		"clip.MP4":            ".mp4",
		"noext":               "",
		"weird.superlongextension": "",
	}
	for input, want := range cases {
		if got := safeExt(input); got != want {
			t.Errorf("safeExt(%q) = %q, want %q", input, got, want)
		}
	}
}
