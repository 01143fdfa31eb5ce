package health

import (
	"context"
	"errors"

	"github.com/tabrag/tabrag/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckNone indicates an unconfigured component.
	CheckNone CheckResult = "none"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	backend BackendPinger
	cache   CachePinger
}

// New creates a Service. cache can be nil.
func New(backend BackendPinger, cache CachePinger) *Service {
	return &Service{backend: backend, cache: cache}
}

// Check runs health checks against all components. An unconfigured backend
// reports none without degrading the status.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	switch err := s.backend.Ping(ctx); {
	case err == nil:
		checks["backend"] = CheckOK
	case errors.Is(err, domain.ErrNoBackend):
		checks["backend"] = CheckNone
	default:
		checks["backend"] = CheckError
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = CheckError
		} else {
			checks["cache"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
