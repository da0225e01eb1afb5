package job

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the retry, retention and scheduling configuration of one queue
type Policy struct {
	Attempts      int
	Backoff       Backoff
	KeepCompleted int
	KeepFailed    int
	// Delay is applied to every enqueue unless overridden per job.
	Delay       time.Duration
	Concurrency int
	// Repeat is the interval of the queue's sync trigger. Zero disables it.
	Repeat time.Duration
}

// Policies maps queue names to their policy
type Policies map[string]Policy

func exponential(delay, maxDelay time.Duration) Backoff {
	return Backoff{Type: BackoffExponential, Delay: delay, MaxDelay: maxDelay}
}

func fixed(delay time.Duration) Backoff {
	return Backoff{Type: BackoffFixed, Delay: delay}
}

// DefaultPolicies returns the built-in policy table
func DefaultPolicies() Policies {
	const twiceDaily = 12 * time.Hour
	return Policies{
		QueueStations: {
			Attempts: 5, Backoff: exponential(2*time.Minute, time.Hour),
			KeepCompleted: 100, KeepFailed: 500, Concurrency: 5, Repeat: twiceDaily,
		},
		QueueVehicles: {
			Attempts: 5, Backoff: exponential(2*time.Minute, time.Hour),
			KeepCompleted: 100, KeepFailed: 500, Concurrency: 5, Repeat: twiceDaily,
		},
		QueueVehicleAvailability: {
			Attempts: 5, Backoff: exponential(2*time.Minute, time.Hour),
			KeepCompleted: 50, KeepFailed: 200, Concurrency: 1, Repeat: twiceDaily,
		},
		QueueIncidentTypes: {
			Attempts: 5, Backoff: exponential(time.Minute, 30*time.Minute),
			KeepCompleted: 50, KeepFailed: 200, Concurrency: 1, Repeat: twiceDaily,
		},
		QueueDistricts: {
			Attempts: 5, Backoff: exponential(2*time.Minute, time.Hour),
			KeepCompleted: 50, KeepFailed: 200, Concurrency: 1, Repeat: twiceDaily,
		},
		QueueIncidentDiscovery: {
			Attempts: 3, Backoff: fixed(10 * time.Second),
			KeepCompleted: 100, KeepFailed: 100, Concurrency: 1, Repeat: time.Minute,
		},
		QueueOpenIncidents: {
			Attempts: 10, Backoff: exponential(5*time.Second, 10*time.Minute),
			KeepCompleted: 1000, KeepFailed: 1000, Delay: 3 * time.Minute, Concurrency: 5,
		},
		QueueMetadata: {
			Attempts: 3, Backoff: fixed(5 * time.Second),
			KeepCompleted: 100, KeepFailed: 100, Concurrency: 1,
		},
	}
}

// Get returns the policy for queue
func (p Policies) Get(queue string) (Policy, bool) {
	pol, ok := p[queue]
	return pol, ok
}

// Validate checks every queue has a usable policy
func (p Policies) Validate() error {
	var problems []string
	for _, name := range QueueNames {
		pol, ok := p[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: missing policy", name))
			continue
		}
		if err := pol.validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	for name := range p {
		if !knownQueue(name) {
			problems = append(problems, fmt.Sprintf("%s: unknown queue", name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid queue policy: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (pol Policy) validate() error {
	if pol.Attempts < 1 {
		return fmt.Errorf("attempts must be at least 1, got %d", pol.Attempts)
	}
	if err := pol.Backoff.Validate(); err != nil {
		return err
	}
	if pol.KeepCompleted < 0 || pol.KeepFailed < 0 {
		return fmt.Errorf("keep counts must not be negative")
	}
	if pol.Delay < 0 || pol.Repeat < 0 {
		return fmt.Errorf("delay and repeat must not be negative")
	}
	if pol.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", pol.Concurrency)
	}
	return nil
}

func knownQueue(name string) bool {
	for _, q := range QueueNames {
		if q == name {
			return true
		}
	}
	return false
}

type backoffOverride struct {
	Type     *string `yaml:"type"`
	Delay    *string `yaml:"delay"`
	MaxDelay *string `yaml:"maxDelay"`
}

type policyOverride struct {
	Attempts      *int             `yaml:"attempts"`
	Backoff       *backoffOverride `yaml:"backoff"`
	KeepCompleted *int             `yaml:"keepCompleted"`
	KeepFailed    *int             `yaml:"keepFailed"`
	Delay         *string          `yaml:"delay"`
	Concurrency   *int             `yaml:"concurrency"`
	Repeat        *string          `yaml:"repeat"`
}

type policyFile struct {
	Queues map[string]policyOverride `yaml:"queues"`
}

// LoadPolicies returns the default table with the overrides of the YAML file
// at path applied, validated. An empty path yields the defaults.
//
//	queues:
//	  open-incidents:
//	    attempts: 12
//	    delay: 2m
//	    backoff: {type: exponential, delay: 10s, maxDelay: 15m}
func LoadPolicies(path string) (Policies, error) {
	policies := DefaultPolicies()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
		if err != nil {
			return nil, fmt.Errorf("failed to read queue policy file: %w", err)
		}
		if err := policies.applyYAML(data); err != nil {
			return nil, err
		}
	}
	if err := policies.Validate(); err != nil {
		return nil, err
	}
	return policies, nil
}

func (p Policies) applyYAML(data []byte) error {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse queue policy file: %w", err)
	}

	for name, o := range file.Queues {
		if !knownQueue(name) {
			return fmt.Errorf("queue policy file names unknown queue %q", name)
		}
		pol := p[name]
		if err := o.apply(&pol); err != nil {
			return fmt.Errorf("queue %s: %w", name, err)
		}
		p[name] = pol
	}
	return nil
}

func (o policyOverride) apply(pol *Policy) error {
	var err error
	if o.Attempts != nil {
		pol.Attempts = *o.Attempts
	}
	if o.KeepCompleted != nil {
		pol.KeepCompleted = *o.KeepCompleted
	}
	if o.KeepFailed != nil {
		pol.KeepFailed = *o.KeepFailed
	}
	if o.Concurrency != nil {
		pol.Concurrency = *o.Concurrency
	}
	if err = setDuration(&pol.Delay, o.Delay, "delay"); err != nil {
		return err
	}
	if err = setDuration(&pol.Repeat, o.Repeat, "repeat"); err != nil {
		return err
	}
	if b := o.Backoff; b != nil {
		if b.Type != nil {
			pol.Backoff.Type = BackoffType(*b.Type)
		}
		if err = setDuration(&pol.Backoff.Delay, b.Delay, "backoff.delay"); err != nil {
			return err
		}
		if err = setDuration(&pol.Backoff.MaxDelay, b.MaxDelay, "backoff.maxDelay"); err != nil {
			return err
		}
	}
	return nil
}

func setDuration(dst *time.Duration, raw *string, field string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, *raw, err)
	}
	*dst = d
	return nil
}
