package app

import (
	"testing"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer(nil)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Port != 50051 {
		t.Fatalf("port = %d, want 50051", cfg.Port)
	}
	if cfg.RootDir != "understudy_data" {
		t.Fatalf("root dir = %q", cfg.RootDir)
	}
	if cfg.MaxWorkers != 10 {
		t.Fatalf("max workers = %d", cfg.MaxWorkers)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("UNDERSTUDY_PORT", "6000")
	t.Setenv("UNDERSTUDY_ROOT_DIR", "/env/root")
	t.Setenv("UNDERSTUDY_PROJECT_IDS", "env_project")

	cfg, err := LoadServer([]string{
		"-port", "7000",
		"-project_ids", "p0",
		"-project_ids", "p1",
	})
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Port != 7000 {
		t.Fatalf("port = %d, want flag value 7000", cfg.Port)
	}
	if cfg.RootDir != "/env/root" {
		t.Fatalf("root dir = %q, want env value", cfg.RootDir)
	}
	// Repeated flags accumulate on top of the environment seed.
	want := []string{"env_project", "p0", "p1"}
	if len(cfg.ProjectIDs) != len(want) {
		t.Fatalf("project ids = %v, want %v", cfg.ProjectIDs, want)
	}
	for i := range want {
		if cfg.ProjectIDs[i] != want[i] {
			t.Fatalf("project ids = %v, want %v", cfg.ProjectIDs, want)
		}
	}
}

func TestLoadServerRejectsBadPort(t *testing.T) {
	if _, err := LoadServer([]string{"-port", "0"}); err == nil {
		t.Fatal("expected port validation error")
	}
}

func TestLoadLearnerHyperparameters(t *testing.T) {
	t.Setenv("UNDERSTUDY_HYPERPARAMETERS", `{"batch_size":16};{"batch_size":32}`)

	cfg, err := LoadLearner(nil)
	if err != nil {
		t.Fatalf("LoadLearner: %v", err)
	}
	hps, err := cfg.ParsedHyperparameters()
	if err != nil {
		t.Fatalf("ParsedHyperparameters: %v", err)
	}
	if len(hps) != 2 {
		t.Fatalf("got %d hyperparameter sets, want 2", len(hps))
	}
	if hps[0].BatchSize != 16 || hps[1].BatchSize != 32 {
		t.Fatalf("batch sizes = %d/%d", hps[0].BatchSize, hps[1].BatchSize)
	}
}

func TestLoadLearnerRejectsBadHyperparameters(t *testing.T) {
	if _, err := LoadLearner([]string{"-hyperparameters", "{not json"}); err == nil {
		t.Fatal("expected hyperparameters parse error")
	}
}
