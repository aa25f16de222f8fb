package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"dragonfarm/internal/genetics"
	"dragonfarm/pkg/domain"
)

var testTraits = []domain.Trait{
	{ID: 1, Name: "Color", DominantAllele: "R", RecessiveAllele: "r"},
	{ID: 2, Name: "WingSpan", DominantAllele: "W", RecessiveAllele: "w"},
	{ID: 3, Name: "Claw", DominantAllele: "S", RecessiveAllele: "s"},
}

var hatchDay = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testRegistry(t *testing.T) *genetics.Registry {
	t.Helper()
	reg, err := genetics.NewRegistry(testTraits)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func fixedClock(at time.Time) Clock {
	return ClockFunc(func() time.Time { return at })
}

func mustRegister(t *testing.T, svc *Service, intake DragonIntake) domain.DragonProfile {
	t.Helper()
	profile, _, err := svc.RegisterDragon(context.Background(), intake)
	if err != nil {
		t.Fatalf("register %s: %v", intake.Name, err)
	}
	return profile
}

func pyro() DragonIntake {
	return DragonIntake{
		ID:        "11111111-1111-1111-1111-111111111111",
		Name:      "Pyro",
		Sex:       domain.SexMale,
		HatchedAt: hatchDay,
		Genotype:  domain.Genotype{1: {A: "R", B: "r"}, 2: {A: "W", B: "w"}, 3: {A: "s", B: "s"}},
	}
}

func astra() DragonIntake {
	return DragonIntake{
		ID:        "22222222-2222-2222-2222-222222222222",
		Name:      "Astra",
		Sex:       domain.SexFemale,
		HatchedAt: hatchDay,
		Genotype:  domain.Genotype{1: {A: "r", B: "r"}, 2: {A: "w", B: "w"}, 3: {A: "S", B: "s"}},
	}
}

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	mu    sync.Mutex
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+msg)
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *captureLogger) contains(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}
