// Package plan loads a declarative YAML description of a WorkGraph: a
// node list plus dependency edges and execution affinity, the same role
// the teacher's internal/config plays for orchestrator settings, applied
// here to graph topology instead.
package plan

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kforge/taskgraph/contract"
	"github.com/kforge/taskgraph/workgraph"
)

func simulateWork(ms int) {
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

// NodeSpec is one node entry in a plan file.
type NodeSpec struct {
	Name          string   `yaml:"name"`
	DependsOn     []string `yaml:"depends_on"`
	MainThread    bool     `yaml:"main_thread"`
	SleepMillis   int      `yaml:"sleep_ms"`
	FailWith      string   `yaml:"fail_with"`
	YieldCount    int      `yaml:"yield_count"`
	MaxReschedule int      `yaml:"max_reschedule"`
}

// Plan is the top-level document: a pool capacity and a node list.
type Plan struct {
	// ID tags this plan run with an opaque correlation identifier,
	// attached to every event the resulting graph publishes, the same
	// way the teacher tags escalations and PRs with opaque IDs.
	ID           uuid.UUID  `yaml:"-"`
	PoolCapacity int        `yaml:"pool_capacity"`
	Nodes        []NodeSpec `yaml:"nodes"`
}

// Load reads and parses a plan document from path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: read %s: %w", path, err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: parse %s: %w", path, err)
	}
	if p.PoolCapacity <= 0 {
		p.PoolCapacity = 8
	}
	p.ID = uuid.New()
	return &p, nil
}

// Build constructs a contract.Pool and a workgraph.WorkGraph from the
// plan, with every node's simulated work (sleep / yield / fail)
// installed, and returns both plus a name->handle map for diagnostics.
func (p *Plan) Build(cfg workgraph.Config) (*contract.Pool, *workgraph.WorkGraph, map[string]workgraph.NodeHandle, error) {
	pool := contract.New(p.PoolCapacity)
	g := workgraph.New(pool, cfg)

	handles := make(map[string]workgraph.NodeHandle, len(p.Nodes))
	for _, n := range p.Nodes {
		execType := workgraph.AnyThread
		if n.MainThread {
			execType = workgraph.MainThread
		}
		spec := n
		if spec.YieldCount > 0 {
			remaining := spec.YieldCount
			work := func() (workgraph.YieldResult, error) {
				simulateWork(spec.SleepMillis)
				if remaining > 0 {
					remaining--
					return workgraph.ResultYield, nil
				}
				if spec.FailWith != "" {
					return workgraph.ResultComplete, fmt.Errorf("%s", spec.FailWith)
				}
				return workgraph.ResultComplete, nil
			}
			maxReschedule := spec.MaxReschedule
			if maxReschedule <= 0 {
				maxReschedule = spec.YieldCount
			}
			handles[spec.Name] = g.AddYieldableNode(work, spec.Name, nil, execType, maxReschedule)
			continue
		}

		work := func() error {
			simulateWork(spec.SleepMillis)
			if spec.FailWith != "" {
				return fmt.Errorf("%s", spec.FailWith)
			}
			return nil
		}
		handles[spec.Name] = g.AddNode(work, spec.Name, nil, execType)
	}

	for _, n := range p.Nodes {
		to, ok := handles[n.Name]
		if !ok {
			continue
		}
		for _, dep := range n.DependsOn {
			from, ok := handles[dep]
			if !ok {
				return pool, g, handles, fmt.Errorf("plan: node %q depends_on unknown node %q", n.Name, dep)
			}
			if err := g.AddDependency(from, to); err != nil {
				return pool, g, handles, fmt.Errorf("plan: %s -> %s: %w", dep, n.Name, err)
			}
		}
	}

	return pool, g, handles, nil
}
