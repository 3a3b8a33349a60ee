package executor

import (
	"sort"

	"github.com/arztflow/pipeline/pkg/config"
)

// orderSteps sorts a phase bucket by (order, id) — the tie-break named
// in §3's invariants and §4.H's "Tie-breaking" section.
func orderSteps(steps []*config.PipelineStep) []*config.PipelineStep {
	out := append([]*config.PipelineStep(nil), steps...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// resolvedPhases is the immutable, up-front-computed step sequence for
// one job: pre-branch and post-branch are fixed; the class-specific
// bucket is looked up per document_class_id once phase 1 finishes.
type resolvedPhases struct {
	preBranch     []*config.PipelineStep
	postBranch    []*config.PipelineStep
	byClassID     map[int64][]*config.PipelineStep
}

// resolve splits a job's enabled step set into its three phase
// buckets per §3's phase-bucket computation, pre-sorted within each
// bucket. Disabled steps are dropped entirely here, satisfying the
// "omitted when disabled" edge case for both the branching step and
// class-specific steps.
func resolve(steps []*config.PipelineStep) *resolvedPhases {
	rp := &resolvedPhases{byClassID: make(map[int64][]*config.PipelineStep)}

	var pre, post []*config.PipelineStep
	byClass := make(map[int64][]*config.PipelineStep)

	for _, s := range steps {
		if !s.Enabled {
			continue
		}
		switch {
		case s.DocumentClassID != nil:
			byClass[*s.DocumentClassID] = append(byClass[*s.DocumentClassID], s)
		case s.PostBranching:
			post = append(post, s)
		default:
			pre = append(pre, s)
		}
	}

	rp.preBranch = orderSteps(pre)
	rp.postBranch = orderSteps(post)
	for classID, cs := range byClass {
		rp.byClassID[classID] = orderSteps(cs)
	}
	return rp
}

// classSteps returns the ordered class-specific steps for the given
// document_type value, or nil if no class was selected or no class by
// that key exists/has matching steps — §4.H phase 2's "skip" case.
func (rp *resolvedPhases) classSteps(documentType string, classes map[string]*config.DocumentClass) []*config.PipelineStep {
	if documentType == "" {
		return nil
	}
	dc, ok := classes[documentType]
	if !ok || !dc.Enabled {
		return nil
	}
	return rp.byClassID[dc.ID]
}
