package transcoder

import "testing"

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		rate string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"0/0", 0},
		{"invalid", 0},
		{"24", 0},
	}

	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			got := parseFrameRate(tt.rate)
			diff := got - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > 1e-9 {
				t.Errorf("parseFrameRate(%q) = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestTail(t *testing.T) {
	if got := tail("hello", 10); got != "hello" {
		t.Errorf("tail of short string truncated: %q", got)
	}
	if got := tail("0123456789", 4); got != "6789" {
		t.Errorf("tail(\"0123456789\", 4) = %q, want %q", got, "6789")
	}
}

func TestNewFFmpegRunnerDefaultsToPathBinaries(t *testing.T) {
	r := NewFFmpegRunner("", "")
	if r.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want %q", r.FFmpegPath, "ffmpeg")
	}
	if r.FFprobePath != "ffprobe" {
		t.Errorf("FFprobePath = %q, want %q", r.FFprobePath, "ffprobe")
	}

	r2 := NewFFmpegRunner("/usr/local/bin/ffmpeg", "/usr/local/bin/ffprobe")
	if r2.FFmpegPath != "/usr/local/bin/ffmpeg" || r2.FFprobePath != "/usr/local/bin/ffprobe" {
		t.Errorf("explicit paths not preserved: %+v", r2)
	}
}
