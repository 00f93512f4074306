package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Metadata is the probe result shape: durationSec, width, height, bitrate,
// fps, codec, aspectRatio.
type Metadata struct {
	DurationSec float64
	Width       int
	Height      int
	BitrateKbps int64
	FPS         float64
	Codec       string
	AspectRatio string
}

// Runner is the subprocess-orchestration capability: RunEncode(args,
// onProgress) -> (exitCode, stderrTail) and RunProbe(path) -> metadata.
// Progress comes from ffmpeg's progress output, not from stderr, which is
// only kept for its tail. This isolates the one dirty integration
// point — both the prober and the transcoder service depend on it rather
// than shelling out themselves.
type Runner interface {
	// RunEncode runs one ffmpeg invocation to completion. onProgress is
	// called with elapsed encode time in seconds, parsed from ffmpeg's
	// "-progress pipe:1" out_time_ms field; the caller converts that to a
	// percentage against the duration it already knows from probing.
	RunEncode(ctx context.Context, args []string, onProgress func(elapsedSec float64)) (exitCode int, stderrTail string, err error)
	// RunProbe runs ffprobe against path and returns parsed metadata.
	RunProbe(ctx context.Context, path string) (*Metadata, error)
}

// FFmpegRunner is the concrete Runner backed by the ffmpeg/ffprobe
// binaries, the one dirty integration point of the whole service.
type FFmpegRunner struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegRunner constructs an FFmpegRunner, defaulting to binaries on
// PATH when either path is empty.
func NewFFmpegRunner(ffmpegPath, ffprobePath string) *FFmpegRunner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegRunner{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType          string `json:"codec_type"`
	CodecName          string `json:"codec_name"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	RFrameRate         string `json:"r_frame_rate"`
	AvgFrameRate       string `json:"avg_frame_rate"`
	DisplayAspectRatio string `json:"display_aspect_ratio"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

// RunProbe shells out to ffprobe and parses duration/width/height/bitrate/
// fps/codec/aspectRatio. fps is parsed from num/den; a zero denominator
// yields fps=0.
func (r *FFmpegRunner) RunProbe(ctx context.Context, path string) (*Metadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, r.FFprobePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("ffprobe: failed to parse output: %w", err)
	}

	md := &Metadata{}
	md.DurationSec, _ = strconv.ParseFloat(out.Format.Duration, 64)
	if br, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
		md.BitrateKbps = br / 1000
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		md.Width = s.Width
		md.Height = s.Height
		md.Codec = s.CodecName
		md.FPS = parseFrameRate(s.AvgFrameRate)
		if md.FPS == 0 {
			md.FPS = parseFrameRate(s.RFrameRate)
		}
		if s.DisplayAspectRatio != "" {
			md.AspectRatio = s.DisplayAspectRatio
		} else if s.Width > 0 && s.Height > 0 {
			md.AspectRatio = fmt.Sprintf("%d:%d", s.Width, s.Height)
		}
		break
	}

	return md, nil
}

func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

var progressRegex = regexp.MustCompile(`out_time_ms=(\d+)`)

// RunEncode runs one ffmpeg invocation, parsing "-progress pipe:1" output
// for elapsed time and reporting it to onProgress; stderr is captured and
// its tail returned regardless of outcome for error reporting.
func (r *FFmpegRunner) RunEncode(ctx context.Context, args []string, onProgress func(elapsedSec float64)) (int, string, error) {
	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, "", fmt.Errorf("ffmpeg: failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, "", fmt.Errorf("ffmpeg: failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, "", fmt.Errorf("ffmpeg: failed to start: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			matches := progressRegex.FindStringSubmatch(scanner.Text())
			if len(matches) < 2 || onProgress == nil {
				continue
			}
			outTimeMs, err := strconv.ParseFloat(matches[1], 64)
			if err != nil {
				continue
			}
			onProgress(outTimeMs / 1e6)
		}
	}()

	var stderrBuf bytes.Buffer
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text())
			stderrBuf.WriteString("\n")
		}
	}()

	waitErr := cmd.Wait()
	<-done
	<-stderrDone

	stderrTail := tail(stderrBuf.String(), 4096)

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return exitCode, stderrTail, fmt.Errorf("ffmpeg: %w: %s", waitErr, stderrTail)
	}

	return 0, stderrTail, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
