package convert

import (
	"encoding/json"
	"strings"

	"github.com/yourusername/reel-forge/internal/jobs"
	"github.com/yourusername/reel-forge/internal/probe"
)

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func h264Result() *probe.Result {
	return &probe.Result{
		Format: probe.Format{Name: "matroska,webm", RawBitRate: "9000000", BitRate: 9_000_000},
		Video:  &probe.VideoStream{Codec: "h264", Width: 1920, Height: 1080},
		Audio:  &probe.AudioStream{Codec: "aac", Channels: 2},
	}
}

func bitrateArg(args []string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-b:v" {
			return args[i+1]
		}
	}
	return ""
}

func countLogs(job *jobs.Job, substr string) int {
	n := 0
	for _, line := range job.Logs {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func fileResult(job *jobs.Job, base string) *jobs.FileResult {
	if job.Result == nil {
		return nil
	}
	for i := range job.Result.Files {
		if strings.HasSuffix(job.Result.Files[i].Input, "/"+base) {
			return &job.Result.Files[i]
		}
	}
	return nil
}
