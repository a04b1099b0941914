package testsupport

import (
	"testing"

	"sentinel/internal/config"
	"sentinel/internal/daemon"
	"sentinel/internal/logging"
)

// NewServices wires the full component graph for cfg and closes it on cleanup.
func NewServices(t testing.TB, cfg *config.Config, opts ...daemon.ServicesOption) *daemon.Services {
	t.Helper()

	svc, err := daemon.NewServices(cfg, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("daemon.NewServices: %v", err)
	}
	t.Cleanup(func() {
		svc.Close()
	})
	return svc
}
