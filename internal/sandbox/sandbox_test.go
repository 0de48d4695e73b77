package sandbox

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/rvullo/fixlab/internal/models"
)

func TestNewSelectsRunner(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, typ := range []string{"", "docker"} {
		r, err := New(models.SandboxConfig{Type: typ}, log)
		if err != nil {
			t.Fatalf("New(%q): %v", typ, err)
		}
		if r.Name() != "docker" {
			t.Errorf("New(%q).Name() = %q, want docker", typ, r.Name())
		}
	}

	_, err := New(models.SandboxConfig{Type: "firecracker"}, log)
	if err == nil || !strings.Contains(err.Error(), "firecracker") {
		t.Fatalf("err = %v, want unknown sandbox type error", err)
	}
}
