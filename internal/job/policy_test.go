package job

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPoliciesValid(t *testing.T) {
	policies := DefaultPolicies()
	require.NoError(t, policies.Validate())

	open, ok := policies.Get(QueueOpenIncidents)
	require.True(t, ok)
	assert.Equal(t, 10, open.Attempts)
	assert.Equal(t, 3*time.Minute, open.Delay)
	assert.Zero(t, open.Repeat)

	discovery, _ := policies.Get(QueueIncidentDiscovery)
	assert.Equal(t, time.Minute, discovery.Repeat)
	assert.Equal(t, BackoffFixed, discovery.Backoff.Type)
}

func TestPoliciesValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Policies)
	}{
		{"missing queue", func(p Policies) { delete(p, QueueMetadata) }},
		{"unknown queue", func(p Policies) { p["bogus"] = p[QueueMetadata] }},
		{"zero attempts", func(p Policies) {
			pol := p[QueueStations]
			pol.Attempts = 0
			p[QueueStations] = pol
		}},
		{"zero concurrency", func(p Policies) {
			pol := p[QueueStations]
			pol.Concurrency = 0
			p[QueueStations] = pol
		}},
		{"bad backoff", func(p Policies) {
			pol := p[QueueStations]
			pol.Backoff.Type = "linear"
			p[QueueStations] = pol
		}},
		{"cap below delay", func(p Policies) {
			pol := p[QueueStations]
			pol.Backoff.MaxDelay = time.Second
			p[QueueStations] = pol
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicies()
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestLoadPoliciesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queues:
  open-incidents:
    attempts: 12
    delay: 2m
    backoff:
      delay: 10s
      maxDelay: 15m
  metadata:
    keepCompleted: 10
`), 0o600))

	policies, err := LoadPolicies(path)
	require.NoError(t, err)

	open := policies[QueueOpenIncidents]
	assert.Equal(t, 12, open.Attempts)
	assert.Equal(t, 2*time.Minute, open.Delay)
	assert.Equal(t, BackoffExponential, open.Backoff.Type)
	assert.Equal(t, 10*time.Second, open.Backoff.Delay)
	assert.Equal(t, 15*time.Minute, open.Backoff.MaxDelay)
	assert.Equal(t, 5, open.Concurrency, "untouched fields keep defaults")

	assert.Equal(t, 10, policies[QueueMetadata].KeepCompleted)
	assert.Equal(t, DefaultPolicies()[QueueStations], policies[QueueStations])
}

func TestLoadPoliciesErrors(t *testing.T) {
	dir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err := LoadPolicies(write("unknown.yaml", "queues:\n  bogus:\n    attempts: 1\n"))
	assert.ErrorContains(t, err, "unknown queue")

	_, err = LoadPolicies(write("duration.yaml", "queues:\n  stations:\n    delay: soon\n"))
	assert.ErrorContains(t, err, "invalid delay")

	_, err = LoadPolicies(write("invalid.yaml", "queues:\n  stations:\n    attempts: 0\n"))
	assert.ErrorContains(t, err, "attempts must be at least 1")

	_, err = LoadPolicies(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	policies, err := LoadPolicies("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies(), policies)
}

func TestBackoffNext(t *testing.T) {
	exp := Backoff{Type: BackoffExponential, Delay: 2 * time.Minute, MaxDelay: time.Hour}
	assert.Equal(t, 2*time.Minute, exp.Next(1))
	assert.Equal(t, 4*time.Minute, exp.Next(2))
	assert.Equal(t, 32*time.Minute, exp.Next(5))
	assert.Equal(t, time.Hour, exp.Next(6))
	assert.Equal(t, time.Hour, exp.Next(500))
	assert.Equal(t, 2*time.Minute, exp.Next(0))

	fixed := Backoff{Type: BackoffFixed, Delay: 10 * time.Second}
	assert.Equal(t, 10*time.Second, fixed.Next(1))
	assert.Equal(t, 10*time.Second, fixed.Next(9))
}

func TestBackoffProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("exponential backoff is monotonic and capped", prop.ForAll(
		func(delayMs, capFactor, attempt int) bool {
			b := Backoff{
				Type:     BackoffExponential,
				Delay:    time.Duration(delayMs) * time.Millisecond,
				MaxDelay: time.Duration(delayMs*capFactor) * time.Millisecond,
			}
			cur, next := b.Next(attempt), b.Next(attempt+1)
			return cur >= b.Delay && cur <= b.MaxDelay && next >= cur
		},
		gen.IntRange(1, 600000),
		gen.IntRange(1, 1000),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}
