package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
)

// whisperOutput is the JSON document the whisper CLI writes with --output_format json.
type whisperOutput struct {
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Text  string          `json:"text"`
	Start decimal.Decimal `json:"start"`
	End   decimal.Decimal `json:"end"`
}

// WhisperBackend runs a local whisper CLI.
type WhisperBackend struct {
	path   string
	model  string
	logger *slog.Logger
}

// NewWhisperBackend locates the whisper binary. An empty path searches $PATH.
func NewWhisperBackend(path, model string, logger *slog.Logger) (*WhisperBackend, error) {
	if path == "" {
		found, err := exec.LookPath("whisper")
		if err != nil {
			return nil, fmt.Errorf("whisper not found: %w", err)
		}
		path = found
	}
	if model == "" {
		model = "base"
	}
	return &WhisperBackend{path: path, model: model, logger: logger}, nil
}

// Name implements Backend.
func (w *WhisperBackend) Name() string { return "whisper" }

// Transcribe implements Backend.
func (w *WhisperBackend) Transcribe(ctx context.Context, audioPath, lang string) ([]Segment, error) {
	outDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{
		audioPath,
		"--model", w.model,
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if code := languageCode(lang); code != "" {
		args = append(args, "--language", code)
	}

	cmd := exec.CommandContext(ctx, w.path, args...) //nolint:gosec // path is resolved at construction
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper: %w", err)
	}

	tail := w.drain(stderr)
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("whisper failed: %w: %s", err, <-tail)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	f, err := os.Open(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, fmt.Errorf("open whisper result: %w", err)
	}
	defer f.Close()

	return parseWhisperOutput(f)
}

// drain logs whisper's stderr and yields its last line once the stream ends.
func (w *WhisperBackend) drain(r io.Reader) <-chan string {
	tail := make(chan string, 1)
	go func() {
		var last string
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				last = line
				w.logger.Debug("whisper", slog.String("line", line))
			}
		}
		tail <- last
	}()
	return tail
}

func parseWhisperOutput(r io.Reader) ([]Segment, error) {
	var out whisperOutput
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode whisper json result: %w", err)
	}

	segments := make([]Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, Segment{
			Start: s.Start.Round(3).InexactFloat64(),
			End:   s.End.Round(3).InexactFloat64(),
			Text:  s.Text,
		})
	}
	return segments, nil
}
