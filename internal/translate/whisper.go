package translate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, langHint string) (string, error)
}

// WhisperTranscriber shells out to the whisper CLI. Transcription is slow
// and cancellable; failures are reported, never silently empty.
type WhisperTranscriber struct {
	bin   string
	model string
}

func NewWhisperTranscriber(bin, model string) *WhisperTranscriber {
	return &WhisperTranscriber{bin: bin, model: model}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath, langHint string) (string, error) {
	outDir, err := os.MkdirTemp("", "whisper-out-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	args := []string{
		audioPath,
		"--model", w.model,
		"--output_format", "txt",
		"--output_dir", outDir,
	}
	if langHint != "" {
		args = append(args, "--language", langHint)
	}
	cmd := exec.CommandContext(ctx, w.bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("whisper: %w: %s", err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	text, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		return "", fmt.Errorf("whisper output: %w", err)
	}
	transcript := strings.TrimSpace(string(text))
	if transcript == "" {
		return "", fmt.Errorf("whisper produced an empty transcript for %s", audioPath)
	}
	return transcript, nil
}
