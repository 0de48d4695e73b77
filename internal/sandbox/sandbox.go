package sandbox

import (
	"fmt"
	"log/slog"

	"github.com/rvullo/fixlab/internal/models"
)

// New builds the runner named by cfg.Type.
func New(cfg models.SandboxConfig, log *slog.Logger) (Runner, error) {
	switch cfg.Type {
	case "", "docker":
		return NewDockerRunner(cfg.CacheVolume, log), nil
	case "modal":
		return NewModalRunner(log)
	default:
		return nil, fmt.Errorf("unknown sandbox type %q", cfg.Type)
	}
}
