// Package app wires the two binaries: the RPC server and the training
// worker. Configuration starts from defaults, then environment
// variables with the UNDERSTUDY_ prefix, then CLI flags; flags win.
package app

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

// Config covers both binaries; each Load parses only its own flags.
type Config struct {
	Port   int
	SSLDir string
	// RootDir is the shared file store every component works under.
	RootDir    string
	MaxWorkers int
	// ProjectIDs are provisioned with fresh API keys on boot when
	// absent.
	ProjectIDs []string

	TmpModelsDir   string
	ModelsDir      string
	CheckpointsDir string
	SummariesDir   string

	MetricsAddr string
	Verbosity   string

	// Hyperparameters are the JSON documents a learner attaches to
	// every active training session; empty means defaults only.
	Hyperparameters []string
}

func defaultConfig() *Config {
	return &Config{
		Port:           50051,
		RootDir:        "understudy_data",
		MaxWorkers:     10,
		TmpModelsDir:   "tmp_models",
		ModelsDir:      "models",
		CheckpointsDir: "checkpoints",
		SummariesDir:   "summaries",
		Verbosity:      "production",
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_SSL_DIR")); v != "" {
		c.SSLDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_ROOT_DIR")); v != "" {
		c.RootDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_MAX_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxWorkers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_PROJECT_IDS")); v != "" {
		c.ProjectIDs = splitNonEmpty(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_TMP_MODELS_DIR")); v != "" {
		c.TmpModelsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_MODELS_DIR")); v != "" {
		c.ModelsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_CHECKPOINTS_DIR")); v != "" {
		c.CheckpointsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_SUMMARIES_DIR")); v != "" {
		c.SummariesDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_METRICS_ADDR")); v != "" {
		c.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_VERBOSITY")); v != "" {
		c.Verbosity = v
	}
	// JSON documents contain commas, so hyperparameter sets are
	// separated by semicolons in the environment form.
	if v := strings.TrimSpace(os.Getenv("UNDERSTUDY_HYPERPARAMETERS")); v != "" {
		c.Hyperparameters = splitNonEmpty(v, ";")
	}
}

func splitNonEmpty(v, sep string) []string {
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// repeatable collects a flag given multiple times.
type repeatable []string

func (r *repeatable) String() string { return strings.Join(*r, ",") }

func (r *repeatable) Set(v string) error {
	if v = strings.TrimSpace(v); v != "" {
		*r = append(*r, v)
	}
	return nil
}

func (c *Config) commonFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RootDir, "root_dir", c.RootDir, "root of the shared file store")
	fs.StringVar(&c.TmpModelsDir, "tmp_models_dir", c.TmpModelsDir, "scratch tree for unexported models, under root_dir")
	fs.StringVar(&c.ModelsDir, "models_dir", c.ModelsDir, "published model bundles, under root_dir")
	fs.StringVar(&c.CheckpointsDir, "checkpoints_dir", c.CheckpointsDir, "working checkpoints, under root_dir")
	fs.StringVar(&c.SummariesDir, "summaries_dir", c.SummariesDir, "training summaries, under root_dir")
	fs.StringVar(&c.MetricsAddr, "metrics_addr", c.MetricsAddr, "ops HTTP listen address; empty disables")
	fs.StringVar(&c.Verbosity, "verbosity", c.Verbosity, "log verbosity: production or development")
}

// LoadServer resolves the server binary's configuration from args.
func LoadServer(args []string) (*Config, error) {
	c := defaultConfig()
	c.applyEnv()

	fs := flag.NewFlagSet("understudy-server", flag.ContinueOnError)
	c.commonFlags(fs)
	fs.IntVar(&c.Port, "port", c.Port, "gRPC listen port")
	fs.StringVar(&c.SSLDir, "ssl_dir", c.SSLDir, "directory holding cert.pem and key.pem; empty for plaintext")
	fs.IntVar(&c.MaxWorkers, "max_workers", c.MaxWorkers, "maximum concurrent RPC streams")
	projects := repeatable(c.ProjectIDs)
	fs.Var(&projects, "project_ids", "project to provision on boot (repeatable)")
	if err := fs.Parse(args); err != nil {
		return nil, svcerr.InvalidArgument("parsing server flags: %v", err)
	}
	if len(projects) > 0 {
		c.ProjectIDs = projects
	}
	return c, c.validate(false)
}

// LoadLearner resolves the worker binary's configuration from args.
func LoadLearner(args []string) (*Config, error) {
	c := defaultConfig()
	c.applyEnv()

	fs := flag.NewFlagSet("understudy-learner", flag.ContinueOnError)
	c.commonFlags(fs)
	hps := repeatable(c.Hyperparameters)
	fs.Var(&hps, "hyperparameters", "hyperparameters JSON to train with (repeatable)")
	if err := fs.Parse(args); err != nil {
		return nil, svcerr.InvalidArgument("parsing learner flags: %v", err)
	}
	if len(hps) > 0 {
		c.Hyperparameters = hps
	}
	return c, c.validate(true)
}

func (c *Config) validate(isLearner bool) error {
	if c.RootDir == "" {
		return svcerr.InvalidArgument("root_dir is required")
	}
	if !isLearner {
		if c.Port <= 0 || c.Port > 65535 {
			return svcerr.InvalidArgument("port %d is out of range", c.Port)
		}
		if c.MaxWorkers <= 0 {
			return svcerr.InvalidArgument("max_workers must be positive, got %d", c.MaxWorkers)
		}
	}
	for _, raw := range c.Hyperparameters {
		if _, err := trainer.Parse(raw); err != nil {
			return err
		}
	}
	return nil
}

// ParsedHyperparameters decodes the configured sets.
func (c *Config) ParsedHyperparameters() ([]trainer.Hyperparameters, error) {
	out := make([]trainer.Hyperparameters, 0, len(c.Hyperparameters))
	for _, raw := range c.Hyperparameters {
		hp, err := trainer.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, hp)
	}
	return out, nil
}
