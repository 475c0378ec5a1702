package monitoring

import (
	"context"
	"time"

	"huddle/internal/core/ports"
)

// AddCatalogCheck lists a room that never exists to prove the recording
// catalog answers. Recording still works without a catalog, so it is not
// critical.
func (h *HealthChecker) AddCatalogCheck(repo ports.ArtifactRepository, interval, timeout time.Duration) {
	h.AddCheck(HealthCheck{
		Name: "catalog",
		Check: func(ctx context.Context) error {
			_, err := repo.ListByRoom(ctx, "__health__")
			return err
		},
		Interval: interval,
		Timeout:  timeout,
	})
}

// AddDevicesCheck verifies the capture platform can enumerate devices.
func (h *HealthChecker) AddDevicesCheck(devices ports.MediaDevices, interval, timeout time.Duration) {
	h.AddCheck(HealthCheck{
		Name: "devices",
		Check: func(ctx context.Context) error {
			_, err := devices.EnumerateDevices(ctx)
			return err
		},
		Interval: interval,
		Timeout:  timeout,
		Critical: true,
	})
}

// IsReady is false only when a critical probe fails.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}
