package stage

import (
	"fmt"
)

// PipelineBuilder constructs a pipeline graph. It supports linear chains and
// explicit edges; the intake session uses one linear chain from the boundary
// stage through to the recording tap.
type PipelineBuilder struct {
	stages []Stage
	edges  map[string][]string // stage name -> downstream stage names
	config *PipelineConfig
}

// NewPipelineBuilder creates a new PipelineBuilder with default configuration.
func NewPipelineBuilder() *PipelineBuilder {
	return &PipelineBuilder{
		stages: []Stage{},
		edges:  make(map[string][]string),
		config: DefaultPipelineConfig(),
	}
}

// WithConfig sets the pipeline configuration.
func (b *PipelineBuilder) WithConfig(config *PipelineConfig) *PipelineBuilder {
	if config != nil {
		b.config = config
	}
	return b
}

// AddStage adds a stage to the builder without connecting it.
// This is useful when building complex topologies manually.
func (b *PipelineBuilder) AddStage(stage Stage) *PipelineBuilder {
	b.stages = append(b.stages, stage)
	return b
}

// Chain creates a linear chain of stages.
// This is the most common pattern: stage1 -> stage2 -> stage3.
// Each stage's output is connected to the next stage's input.
func (b *PipelineBuilder) Chain(stages ...Stage) *PipelineBuilder {
	if len(stages) == 0 {
		return b
	}

	b.stages = append(b.stages, stages...)

	for i := 0; i < len(stages)-1; i++ {
		b.Connect(stages[i].Name(), stages[i+1].Name())
	}

	return b
}

// Connect creates a directed edge from one stage to another.
// The output of fromStage will be connected to the input of toStage.
func (b *PipelineBuilder) Connect(fromStage, toStage string) *PipelineBuilder {
	if b.edges[fromStage] == nil {
		b.edges[fromStage] = []string{}
	}
	b.edges[fromStage] = append(b.edges[fromStage], toStage)
	return b
}

// Build constructs the pipeline from the builder's configuration.
// It validates the pipeline structure and returns an error if invalid.
func (b *PipelineBuilder) Build() (*StreamPipeline, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	return &StreamPipeline{
		stages:   b.stages,
		edges:    b.edges,
		config:   b.config,
		shutdown: make(chan struct{}),
		execDone: make(chan error, 1),
	}, nil
}

// validate checks if the pipeline configuration is valid.
func (b *PipelineBuilder) validate() error {
	if len(b.stages) == 0 {
		return ErrNoStages
	}

	if err := b.config.Validate(); err != nil {
		return err
	}

	// Check for duplicate stage names
	stageNames := make(map[string]bool)
	for _, stage := range b.stages {
		if stageNames[stage.Name()] {
			return fmt.Errorf("%w: %s", ErrDuplicateStageName, stage.Name())
		}
		stageNames[stage.Name()] = true
	}

	// Validate all edges reference existing stages
	for fromStage, toStages := range b.edges {
		if !stageNames[fromStage] {
			return fmt.Errorf("%w: %s (referenced in edges)", ErrStageNotFound, fromStage)
		}
		for _, toStage := range toStages {
			if !stageNames[toStage] {
				return fmt.Errorf("%w: %s (referenced in edges from %s)", ErrStageNotFound, toStage, fromStage)
			}
		}
	}

	return b.detectCycles()
}

// detectCycles checks if the pipeline graph contains cycles.
func (b *PipelineBuilder) detectCycles() error {
	detector := &cycleDetector{
		graph:    b.edges,
		visited:  make(map[string]bool),
		recStack: make(map[string]bool),
	}

	for _, stage := range b.stages {
		if detector.hasCycleFrom(stage.Name()) {
			return ErrCyclicDependency
		}
	}

	return nil
}

// cycleDetector implements DFS-based cycle detection for a directed graph.
type cycleDetector struct {
	graph    map[string][]string
	visited  map[string]bool
	recStack map[string]bool
}

// hasCycleFrom checks if there's a cycle starting from the given node.
func (d *cycleDetector) hasCycleFrom(node string) bool {
	if d.visited[node] {
		return false
	}
	return d.dfs(node)
}

// dfs performs depth-first search to detect cycles.
func (d *cycleDetector) dfs(node string) bool {
	d.visited[node] = true
	d.recStack[node] = true

	for _, neighbor := range d.graph[node] {
		if d.recStack[neighbor] {
			return true
		}
		if !d.visited[neighbor] && d.dfs(neighbor) {
			return true
		}
	}

	d.recStack[node] = false
	return false
}
