package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout bounds a single checker
const DefaultCheckTimeout = 5 * time.Second

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status    Status                          `json:"status"`
	Timestamp time.Time                       `json:"timestamp"`
	Uptime    string                          `json:"uptime"`
	Checks    map[string]Check                `json:"checks"`
	Services  map[string]service.StatusReport `json:"services,omitempty"`
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// StatusSource reports the state of registered services
type StatusSource interface {
	GetAllStatuses() map[string]*service.ServiceStatus
}

// Manager aggregates health checks
type Manager struct {
	logger    *logger.Logger
	checkers  []Checker
	services  StatusSource
	timeout   time.Duration
	startTime time.Time
	mu        sync.RWMutex
}

// NewManager creates a new health check manager. services may be nil.
func NewManager(log *logger.Logger, services StatusSource) *Manager {
	return &Manager{
		logger:    log,
		checkers:  make([]Checker, 0),
		services:  services,
		timeout:   DefaultCheckTimeout,
		startTime: time.Now(),
	}
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check runs every checker concurrently and folds the results into one
// report. Unhealthy wins over degraded.
func (m *Manager) Check(ctx context.Context) HealthReport {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			results[i] = checker.Check(ctx)
		}(i, checker)
	}
	wg.Wait()

	checks := make(map[string]Check, len(results))
	overallStatus := StatusHealthy
	for _, check := range results {
		checks[check.Name] = check

		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    checks,
		Services:  m.serviceStatuses(),
	}
}

func (m *Manager) serviceStatuses() map[string]service.StatusReport {
	services := make(map[string]service.StatusReport)
	if m.services == nil {
		return services
	}
	for name, status := range m.services.GetAllStatuses() {
		services[name] = status.Report()
	}
	return services
}

// RegisterRoutes mounts the health endpoints on r
func (m *Manager) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", m.handleHealth)
	r.GET("/health/live", m.handleLiveness)
	r.GET("/health/ready", m.handleReadiness)
}

func (m *Manager) handleHealth(c *gin.Context) {
	report := m.Check(c.Request.Context())

	// Degraded still answers 200
	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

// handleLiveness only reports that the process serves requests
func (m *Manager) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

func (m *Manager) handleReadiness(c *gin.Context) {
	report := m.Check(c.Request.Context())

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
		m.logger.Warn("Readiness check failed", "status", report.Status)
	}

	c.JSON(statusCode, gin.H{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"ready":     report.Status != StatusUnhealthy,
	})
}
