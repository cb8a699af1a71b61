package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TesseractEngine shells out to the tesseract binary.
type TesseractEngine struct {
	binary    string
	languages string
	timeout   time.Duration
}

// TesseractConfig configures the engine.
type TesseractConfig struct {
	Binary    string
	Languages string
	Timeout   time.Duration
}

// NewTesseractEngine builds an Engine backed by the tesseract CLI.
func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = "kor+eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TesseractEngine{
		binary:    cfg.Binary,
		languages: cfg.Languages,
		timeout:   cfg.Timeout,
	}
}

// Recognize runs tesseract against the image and returns its stdout.
func (e *TesseractEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.binary, imagePath, "stdout", "-l", e.languages)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
