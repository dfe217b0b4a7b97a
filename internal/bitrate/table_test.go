package bitrate

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleTable() Table {
	return Table{
		"720p": {
			"h264": {"hevc_nvenc": "3M"},
		},
		"1080p": {
			"h264": {"hevc_nvenc": "5M", "libx264": "8M"},
			"hevc": {"hevc_nvenc": "4M"},
		},
		"2160p": {
			"h264": {"hevc_nvenc": "16M"},
		},
		"bogus": {},
	}
}

func TestProfileFileName(t *testing.T) {
	cases := map[string]string{
		"Balanced Quality": "balanced_quality.json",
		"balanced":         "balanced_quality.json",
		"high_quality":     "high_quality.json",
		"MIN":              "min_quality.json",
		"max_quality.json": "max_quality.json",
	}
	for in, want := range cases {
		if got := ProfileFileName(in); got != want {
			t.Fatalf("ProfileFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuckets(t *testing.T) {
	got := sampleTable().Buckets()
	want := []int{720, 1080, 2160}
	if len(got) != len(want) {
		t.Fatalf("Buckets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Buckets() = %v, want %v", got, want)
		}
	}
}

func TestBucketForRoundsUp(t *testing.T) {
	table := sampleTable()
	cases := map[int]string{
		480:  "720p",
		720:  "720p",
		800:  "1080p",
		1080: "1080p",
		1440: "2160p",
		4320: "2160p",
	}
	for height, want := range cases {
		got, ok := table.BucketFor(height)
		if !ok || got != want {
			t.Fatalf("BucketFor(%d) = %q, %v; want %q", height, got, ok, want)
		}
	}
	if _, ok := table.BucketFor(0); ok {
		t.Fatal("BucketFor(0) should not match")
	}
	if _, ok := (Table{}).BucketFor(1080); ok {
		t.Fatal("empty table should not match")
	}
}

func TestLookup(t *testing.T) {
	table := sampleTable()
	if got, ok := table.Lookup(1000, "h264", "hevc_nvenc"); !ok || got != "5M" {
		t.Fatalf("Lookup = %q, %v; want 5M", got, ok)
	}
	if _, ok := table.Lookup(1000, "vp9", "hevc_nvenc"); ok {
		t.Fatal("missing input codec should not match")
	}
	if _, ok := table.Lookup(1000, "hevc", "libx264"); ok {
		t.Fatal("missing output codec should not match")
	}

	na := Table{"1080p": {"h264": {"hevc_nvenc": "N/A", "libx264": ""}}}
	if got, ok := na.Lookup(1080, "h264", "hevc_nvenc"); ok {
		t.Fatalf("N/A cell should not match, got %q", got)
	}
	if _, ok := na.Lookup(1080, "h264", "libx264"); ok {
		t.Fatal("empty cell should not match")
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	content := `{"1080p": {"h264": {"hevc_nvenc": "5M"}}}`
	if err := os.WriteFile(filepath.Join(dir, "balanced_quality.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	table, err := LoadProfile(dir, "Balanced Quality")
	if err != nil {
		t.Fatalf("LoadProfile returned error: %v", err)
	}
	if got, ok := table.Lookup(1080, "h264", "hevc_nvenc"); !ok || got != "5M" {
		t.Fatalf("unexpected lookup: %q %v", got, ok)
	}
}

func TestLoadProfileMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()
	if table, err := LoadProfile(dir, "nonexistent"); err == nil || table == nil || len(table) != 0 {
		t.Fatalf("missing profile: table=%v err=%v", table, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "low_quality.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}
	if table, err := LoadProfile(dir, "low"); err == nil || len(table) != 0 {
		t.Fatalf("corrupt profile: table=%v err=%v", table, err)
	}
}

func TestBundledProfilesLoad(t *testing.T) {
	dir := filepath.Join("..", "..", "bitrate_configs")
	for _, name := range Profiles {
		table, err := LoadProfile(dir, name)
		if err != nil {
			t.Fatalf("LoadProfile(%q): %v", name, err)
		}
		if _, ok := table.Lookup(1080, "h264", "hevc_nvenc"); !ok {
			t.Fatalf("profile %q has no 1080p h264 -> hevc_nvenc entry", name)
		}
	}
}
