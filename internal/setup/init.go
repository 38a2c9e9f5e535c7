// Package setup handles ledger initialization and configuration loading.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/taskledger/taskledger/internal/counter"
	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/model"
	"github.com/taskledger/taskledger/internal/storage"
)

// LedgerDirName is the data root created inside a project directory.
const LedgerDirName = ".taskledger"

// Options overrides the generated defaults.
type Options struct {
	ProjectName string
	Description string
}

// Run initializes the .taskledger/ tree in the given project directory:
// the directory structure, a default config.yaml, an empty index, and the
// counter file seeded at zero. Fails if the root already exists.
func Run(projectDir string, opts Options) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}

	root := filepath.Join(absDir, LedgerDirName)
	if _, err := os.Stat(root); err == nil {
		return "", fmt.Errorf("%s already exists", root)
	}

	for _, d := range ledger.Dirs() {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg := model.DefaultConfig()
	cfg.Project.Name = opts.ProjectName
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(absDir)
	}
	cfg.Project.Description = opts.Description
	cfg.Ledger.Created = time.Now().UTC().Format(time.RFC3339)

	if err := writeConfig(filepath.Join(root, ledger.ConfigFileName), cfg); err != nil {
		return "", fmt.Errorf("write config.yaml: %w", err)
	}

	// Empty index so readers never special-case a missing file.
	if err := os.WriteFile(ledger.IndexPath(root), nil, 0644); err != nil {
		return "", fmt.Errorf("create index: %w", err)
	}

	ref := counter.NewFileRef(ledger.CounterPath(root), ledger.CounterLockPath(root))
	if err := ref.Init(model.CounterState{UpdatedAt: time.Now().UTC()}); err != nil {
		return "", fmt.Errorf("seed counter: %w", err)
	}

	return root, nil
}

func writeConfig(path string, cfg model.Config) error {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return storage.AtomicWriteRaw(path, data, func(content []byte) error {
		var check model.Config
		return yamlv3.Unmarshal(content, &check)
	})
}

// LoadConfig reads and validates config.yaml from a ledger root. A missing
// file yields the defaults.
func LoadConfig(root string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ledger.ConfigFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return model.DefaultConfig(), nil
		}
		return model.Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := model.DefaultConfig()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}
