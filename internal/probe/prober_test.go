package probe

import (
	"context"
	"testing"
)

const sampleMKV = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "mjpeg",
      "codec_type": "video",
      "width": 600,
      "height": 900,
      "disposition": { "attached_pic": 1 }
    },
    {
      "index": 1,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 1920,
      "height": 1080,
      "bit_rate": "5000000",
      "disposition": { "attached_pic": 0 }
    },
    {
      "index": 2,
      "codec_name": "aac",
      "codec_type": "audio",
      "channels": 2
    }
  ],
  "format": {
    "format_name": "matroska,webm",
    "duration": "1437.123000",
    "size": "1234567890",
    "bit_rate": "6873456"
  }
}`

func TestParseJSON(t *testing.T) {
	res, err := ParseJSON([]byte(sampleMKV))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if res.Video == nil || res.Video.Codec != "h264" {
		t.Fatalf("attached pic should be skipped, got %+v", res.Video)
	}
	if got := res.Resolution(); got != "1920x1080" {
		t.Errorf("Resolution = %q, want 1920x1080", got)
	}
	if got := res.AudioCodec(); got != "aac" {
		t.Errorf("AudioCodec = %q, want aac", got)
	}
	if res.Format.RawBitRate != "6873456" || res.Format.BitRate != 6873456 {
		t.Errorf("unexpected format bitrate: %+v", res.Format)
	}
	if got := res.BitrateLabel(); got != "6.87 Mbps" {
		t.Errorf("BitrateLabel = %q", got)
	}
	if got := res.FormatName(); got != "matroska,webm" {
		t.Errorf("FormatName = %q", got)
	}
}

func TestParseJSONInvalid(t *testing.T) {
	if _, err := ParseJSON([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestResultUnknownValues(t *testing.T) {
	var res *Result
	if res.Resolution() != Unknown || res.VideoCodec() != Unknown || res.AudioCodec() != Unknown {
		t.Fatal("nil result should report unknown")
	}
	empty := &Result{}
	if empty.BitrateLabel() != Unknown || empty.FormatName() != Unknown {
		t.Fatal("empty result should report unknown")
	}
}

func TestFFprobeMissingBinary(t *testing.T) {
	p := NewFFprobe("/nonexistent/ffprobe-binary")
	if _, err := p.Probe(context.Background(), "video.mp4"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
