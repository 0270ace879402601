package transcribe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
)

// Extractor cuts time ranges out of audiobook files with ffmpeg.
type Extractor struct {
	ffmpegPath string
	cacheDir   string
	logger     *slog.Logger
}

// NewExtractor locates ffmpeg and prepares the scratch directory.
// An empty ffmpegPath searches $PATH.
func NewExtractor(ffmpegPath, cacheDir string, logger *slog.Logger) (*Extractor, error) {
	if ffmpegPath == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		ffmpegPath = path
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Extractor{ffmpegPath: ffmpegPath, cacheDir: cacheDir, logger: logger}, nil
}

// Extract writes [start, end] of source as 16 kHz mono WAV and returns its
// path. The caller removes the file. onProgress, if set, receives 0-100.
func (e *Extractor) Extract(ctx context.Context, source string, start, end float64, onProgress func(int)) (string, error) {
	if end <= start {
		return "", fmt.Errorf("empty extraction range [%.3f, %.3f]", start, end)
	}

	f, err := os.CreateTemp(e.cacheDir, "window-*.wav")
	if err != nil {
		return "", fmt.Errorf("create window file: %w", err)
	}
	out := f.Name()
	_ = f.Close()

	args := extractArgs(source, out, start, end)
	e.logger.Debug("executing ffmpeg", slog.Any("args", args))

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...) //nolint:gosec // ffmpegPath is resolved at construction
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}

	// stderr must be fully read before Wait.
	parseProgress(stderr, end-start, onProgress)

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("ffmpeg failed: %w", err)
	}
	return out, nil
}

// extractArgs builds the ffmpeg arguments for one window. Seeking before -i
// is fast and accurate for audio-only inputs.
func extractArgs(input, output string, start, end float64) []string {
	return []string{
		"-y",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-t", strconv.FormatFloat(end-start, 'f', 3, 64),
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		output,
	}
}

// FFmpeg outputs: time=00:01:23.45
var timeRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

// parseProgress reads ffmpeg stderr and reports progress in 5% steps.
func parseProgress(stderr io.Reader, duration float64, onProgress func(int)) {
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanCRLF)
	last := 0

	for scanner.Scan() {
		m := timeRegex.FindStringSubmatch(scanner.Text())
		if len(m) < 4 || onProgress == nil || duration <= 0 {
			continue
		}
		hours, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs, _ := strconv.Atoi(m[3])

		progress := min(100, int(float64(hours*3600+mins*60+secs)*100/duration))
		if progress-last >= 5 || (progress == 100 && last != 100) {
			last = progress
			onProgress(progress)
		}
	}
}

// scanCRLF splits on \n or \r; ffmpeg rewrites its status line with \r.
func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// cleanupWindows removes leftover window files from an earlier run.
func cleanupWindows(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "window-*.wav"))
	if err != nil {
		return 0, err
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
	return len(matches), nil
}
