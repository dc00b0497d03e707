package surveygen

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Pipeline stage names used for usage attribution.
const (
	StageExtraction = "extraction"
	StageGeneration = "generation"
)

// Usage tracks token consumption for one model call. Cache hits in the
// invocation cache contribute a zero Usage.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		CachedTokens: u.CachedTokens + o.CachedTokens,
	}
}

// Billed is the input token count actually charged, i.e. input minus the
// tokens served from the remote context cache.
func (u Usage) Billed() int {
	if b := u.InputTokens - u.CachedTokens; b > 0 {
		return b
	}
	return 0
}

// IsZero reports whether no tokens were consumed.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

func usageFromMetadata(md *genai.GenerateContentResponseUsageMetadata) Usage {
	if md == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(md.PromptTokenCount),
		OutputTokens: int(md.CandidatesTokenCount),
		CachedTokens: int(md.CachedContentTokenCount),
	}
}

// StatsCollector accumulates per-call usage counters across a batch run.
// It is an append-only fold: records are never mutated after the fact.
// Safe for concurrent use by multiple pipeline workers.
type StatsCollector struct {
	mu      sync.Mutex
	records []stageUsage
}

type stageUsage struct {
	stage string
	usage Usage
}

// NewStatsCollector returns an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// Record appends one call's usage under the given stage.
func (c *StatsCollector) Record(stage string, u Usage) {
	c.mu.Lock()
	c.records = append(c.records, stageUsage{stage: stage, usage: u})
	c.mu.Unlock()
}

// Totals returns the run-level sum over all recorded calls.
func (c *StatsCollector) Totals() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total Usage
	for _, r := range c.records {
		total = total.Add(r.usage)
	}
	return total
}

// ByStage returns per-stage sums (extraction vs generation).
func (c *StatsCollector) ByStage() map[string]Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Usage)
	for _, r := range c.records {
		out[r.stage] = out[r.stage].Add(r.usage)
	}
	return out
}

// Calls returns the number of recorded model calls.
func (c *StatsCollector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Summary renders the run-level usage report printed after a batch.
func (c *StatsCollector) Summary(model string) string {
	total := c.Totals()
	byStage := c.ByStage()

	stages := make([]string, 0, len(byStage))
	for s := range byStage {
		stages = append(stages, s)
	}
	sort.Strings(stages)

	var b strings.Builder
	line := strings.Repeat("=", 50)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "GENERATION SUMMARY")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Total input tokens:   %d\n", total.InputTokens)
	fmt.Fprintf(&b, "Total output tokens:  %d\n", total.OutputTokens)
	fmt.Fprintf(&b, "Billed input tokens:  %d\n", total.Billed())
	if total.CachedTokens > 0 {
		fmt.Fprintf(&b, "Cached tokens:        %d\n", total.CachedTokens)
	}
	for _, s := range stages {
		u := byStage[s]
		fmt.Fprintf(&b, "%-21s in=%d out=%d cached=%d\n", s+":", u.InputTokens, u.OutputTokens, u.CachedTokens)
	}
	fmt.Fprintf(&b, "Model:                %s\n", model)
	fmt.Fprintln(&b, line)
	return b.String()
}
