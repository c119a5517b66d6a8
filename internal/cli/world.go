package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/plucky/sitesim/internal/config"
	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/monitor"
	"github.com/plucky/sitesim/internal/report"
	"github.com/plucky/sitesim/internal/sig"
)

// buildWorld turns a decoded system file into a registry and a seeded
// mixture. systemDir anchors a relative mixture file path.
func buildWorld(cfg *config.Config, systemDir string) (*sig.Registry, *mix.Mixture, error) {
	reg, err := sig.Parse(cfg.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: %w", err)
	}
	rates, err := cfg.Set.Derive(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving rates: %w", err)
	}
	x := mix.New(reg, rates, mix.Options{
		Consolidate:  cfg.Set.Consolidate,
		Canonicalize: cfg.Set.Canonicalize,
	})

	if cfg.MixtureFile == "" {
		x.SeedInitial(rates.InitCounts)
		return reg, x, nil
	}

	path := cfg.MixtureFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(systemDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening mixture file: %w", err)
	}
	defer f.Close()
	if _, err := report.ReadSnapshot(x, f); err != nil {
		return nil, nil, fmt.Errorf("reading mixture file %s: %w", path, err)
	}
	return reg, x, nil
}

// rowFan duplicates observation rows to several sinks.
type rowFan []monitor.RowWriter

func (f rowFan) WriteRow(cells []string) error {
	for _, w := range f {
		if err := w.WriteRow(cells); err != nil {
			return err
		}
	}
	return nil
}
