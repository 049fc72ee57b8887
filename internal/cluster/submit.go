package cluster

import (
	"bldr/internal/backpressure"
	"bldr/internal/digest"
)

// Action is everything the coordinator needs to schedule, fingerprint,
// cache, and eventually dispatch one build action. The build graph itself
// only ever stores action IDs and dependency edges (internal/graph.Graph
// has no room for a command line), so Action is the side-table entry a
// caller submits alongside them.
type Action struct {
	ID          string
	DependsOn   []string
	Priority    backpressure.Priority
	Command     []string
	Env         map[string]string
	Inputs      []digest.InputPair
	OutputPaths []string
	ToolDigest  digest.Digest
	Platform    string
	// Capabilities is the sandbox capability set serialized into the
	// fingerprint; see sandbox.Capabilities for the structured form workers
	// enforce once an assignment actually reaches one.
	Capabilities string
}

func (a Action) fingerprint() digest.Digest {
	return digest.FingerprintAction(digest.ActionSpec{
		Command:      a.Command,
		Env:          a.Env,
		Inputs:       a.Inputs,
		OutputPaths:  a.OutputPaths,
		ToolDigest:   a.ToolDigest,
		Platform:     a.Platform,
		Capabilities: a.Capabilities,
	})
}

func (a Action) assignPayload() AssignPayload {
	return AssignPayload{
		ActionID:    a.ID,
		Command:     a.Command,
		Env:         a.Env,
		Inputs:      a.Inputs,
		OutputPaths: a.OutputPaths,
		Priority:    int(a.Priority),
	}
}

// Submit registers a batch of actions with the build graph and scheduler,
// and keeps each one's full spec available to the dispatch loop so it can
// be fingerprinted and assigned once it becomes ready. Actions may
// reference any DependsOn id also present in this batch or already
// submitted earlier.
func (c *Coordinator) Submit(actions []Action) error {
	g := c.Scheduler.Graph()

	for _, a := range actions {
		g.AddNode(a.ID)
	}
	for _, a := range actions {
		for _, dep := range a.DependsOn {
			if err := g.AddEdge(dep, a.ID); err != nil {
				return err
			}
		}
	}

	c.mu.Lock()
	for _, a := range actions {
		c.specs[a.ID] = a
	}
	c.mu.Unlock()

	for _, a := range actions {
		if err := c.Scheduler.Submit(a.ID, a.Priority); err != nil {
			return err
		}
	}
	return nil
}
