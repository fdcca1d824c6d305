package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/wintlu/stereo-play/config"
)

// runCaptured runs an external process to completion and returns its
// trimmed stdout, wrapping any non-zero exit with the full captured
// stderr — the invocation contract every external process in §6 shares.
func runCaptured(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w (stderr: %s)", path, strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// probeTitle asks the external fetcher for a human-readable title.
func probeTitle(ctx context.Context, cfg *config.Config, url string) (string, error) {
	out, err := runCaptured(ctx, cfg.FetcherPath, "--title", url)
	if err != nil {
		return "Unknown", err
	}
	lines := strings.SplitN(out, "\n", 2)
	if lines[0] == "" {
		return "Unknown", nil
	}
	return lines[0], nil
}

// probeDuration asks the external fetcher for the source duration in
// whole seconds.
func probeDuration(ctx context.Context, cfg *config.Config, url string) (float64, error) {
	out, err := runCaptured(ctx, cfg.FetcherPath, "--duration", url)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", out, err)
	}
	return float64(secs), nil
}

// probeStreamURL asks the external fetcher for a direct media URL. A
// missing stream URL is the one probe failure that aborts ingestion
// (§4.4: "a missing stream URL aborts with FetchFailed").
func probeStreamURL(ctx context.Context, cfg *config.Config, url string) (string, error) {
	out, err := runCaptured(ctx, cfg.FetcherPath, "--stream-url", url)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("fetcher returned an empty stream URL")
	}
	return out, nil
}

// startTranscode launches the external transcoder against streamURL,
// panning channel 0 to leftPath and channel 1 to rightPath at 192kbps,
// per the exact invocation contract in §6. It does not wait for
// completion; the caller owns the returned *exec.Cmd's lifecycle.
func startTranscode(ctx context.Context, cfg *config.Config, streamURL, leftPath, rightPath string) (*exec.Cmd, *bytes.Buffer, error) {
	filter := "[0:a]pan=mono|c0=c0[L];[0:a]pan=mono|c0=c1[R]"
	cmd := exec.CommandContext(ctx, cfg.TranscoderPath,
		"-i", streamURL,
		"-filter_complex", filter,
		"-map", "[L]", "-b:a", "192k", leftPath,
		"-map", "[R]", "-b:a", "192k", rightPath,
		"-y",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting transcoder: %w", err)
	}
	return cmd, &stderr, nil
}

// probeFileDuration asks the external prober for a decodable file's
// duration in seconds.
func probeFileDuration(ctx context.Context, cfg *config.Config, path string) (float64, error) {
	out, err := runCaptured(ctx, cfg.ProbePath, "-duration", path)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing probe duration %q: %w", out, err)
	}
	return d, nil
}
