package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"PORT", "GIN_MODE", "JOB_STORE", "JOB_SCHEDULER", "MAX_CONCURRENT_JOBS", "API_KEY", "API_KEY_HASH"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8080" || cfg.JobStore != StoreRedis || cfg.JobScheduler != SchedulerAsynq {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxConcurrentJobs != 4 || cfg.JobQueueTimeoutHours != 24 || cfg.EventBufferSize != 500 {
		t.Fatalf("unexpected numeric defaults: %+v", cfg)
	}
	if cfg.AuthEnabled() {
		t.Fatal("auth should be disabled without a key")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JOB_STORE", "SQLite")
	t.Setenv("JOB_SCHEDULER", "local")
	t.Setenv("MAX_CONCURRENT_JOBS", "8")
	t.Setenv("JOB_RETENTION_HOURS", "not-a-number")
	t.Setenv("API_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.JobStore != StoreSQLite || cfg.JobScheduler != SchedulerLocal || cfg.MaxConcurrentJobs != 8 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.JobRetentionHours != 0 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.JobRetentionHours)
	}
	if cfg.RequiresRedis() || !cfg.AuthEnabled() {
		t.Fatalf("unexpected derived flags: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		JobStore:          StoreMemory,
		JobScheduler:      SchedulerLocal,
		MaxConcurrentJobs: 1,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	release := base
	release.GinMode = "release"
	if err := release.Validate(); err == nil {
		t.Fatal("release mode without API key should fail")
	}
	release.APIKeyHash = "$2a$10$hash"
	if err := release.Validate(); err != nil {
		t.Fatalf("release mode with hash should pass: %v", err)
	}

	unknown := base
	unknown.JobStore = "postgres"
	if err := unknown.Validate(); err == nil {
		t.Fatal("unknown store should fail")
	}

	zero := base
	zero.MaxConcurrentJobs = 0
	if err := zero.Validate(); err == nil {
		t.Fatal("zero concurrency should fail")
	}
}
