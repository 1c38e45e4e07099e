// Package transform holds the obfuscation stages and the registry that runs
// them over a batch of units.
package transform

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/apex/log"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/util"
)

// Transform rewrites one unit. Implementations must return content for every
// unit they accept, unchanged when nothing applies.
type Transform interface {
	Meta() model.StageMeta
	Apply(ctx context.Context, unit model.Unit, env *Env) (Result, error)
}

// Note is a stage-local warning attached to a unit.
type Note struct {
	Line     int
	Class    string
	Severity model.Severity
	Message  string
}

type Result struct {
	Content string
	Notes   []Note
}

func (r *Result) warn(line int, err error) {
	r.Notes = append(r.Notes, Note{Line: line, Class: model.Classify(err), Severity: model.SeverityWarning, Message: err.Error()})
}

func (r *Result) info(line int, msg string) {
	r.Notes = append(r.Notes, Note{Line: line, Class: model.ClassTransform, Severity: model.SeverityInfo, Message: msg})
}

// Outcome is the per-unit result of a stage run. Failed units keep their input content.
type Outcome struct {
	Unit        model.Unit
	Changed     bool
	Err         error
	Diagnostics []model.Diagnostic
}

type Registry struct{ stages []Transform }

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(t Transform) { r.stages = append(r.stages, t) }

// RegisterBuiltin registers the five stages in pipeline order.
func (r *Registry) RegisterBuiltin() {
	r.Register(&opaquePredicates{})
	r.Register(&dynamicDispatch{})
	r.Register(&factoryIndirection{})
	r.Register(&proxyIndirection{})
	r.Register(&highToLow{})
}

// Stages returns the registered stages sorted by order.
func (r *Registry) Stages() []Transform {
	out := append([]Transform(nil), r.stages...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Meta().Order < out[j].Meta().Order })
	return out
}

// Lookup finds a stage by id.
func (r *Registry) Lookup(id string) (Transform, bool) {
	for _, t := range r.stages {
		if t.Meta().ID == id {
			return t, true
		}
	}
	return nil, false
}

// Run applies t to every unit on a bounded goroutine pool. One unit failing
// never stops its siblings; outcomes come back in input order.
func (r *Registry) Run(ctx context.Context, t Transform, units []model.Unit, env *Env, workers int) []Outcome {
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 2 {
			workers = 2
		}
	}
	meta := t.Meta()
	out := make([]Outcome, len(units))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, u := range units {
		i, u := i, u
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = runOne(ctx, t, meta, u, env)
		}()
	}
	wg.Wait()
	return out
}

func runOne(ctx context.Context, t Transform, meta model.StageMeta, u model.Unit, env *Env) (o Outcome) {
	o.Unit = u
	defer func() {
		if p := recover(); p != nil {
			o.Unit, o.Changed = u, false
			o.Err = fmt.Errorf("stage %s panicked on %s: %v", meta.ID, u.Name, p)
			o.Diagnostics = append(o.Diagnostics, diagnostic(meta.ID, u.Name, 0, model.ClassPipeline, model.SeverityError, o.Err.Error()))
		}
	}()
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}
	res, err := t.Apply(ctx, u, env)
	for _, n := range res.Notes {
		o.Diagnostics = append(o.Diagnostics, diagnostic(meta.ID, u.Name, n.Line, n.Class, n.Severity, n.Message))
		log.WithFields(log.Fields{"stage": meta.ID, "unit": u.Name, "line": n.Line, "class": n.Class}).Debug(n.Message)
	}
	if err != nil {
		o.Err = err
		o.Diagnostics = append(o.Diagnostics, diagnostic(meta.ID, u.Name, 0, model.Classify(err), model.SeverityError, err.Error()))
		log.WithFields(log.Fields{"stage": meta.ID, "unit": u.Name}).WithError(err).Warn("unit failed, passing prior content through")
		return o
	}
	o.Changed = res.Content != u.Content
	o.Unit.Content = res.Content
	return o
}

func diagnostic(stage, unit string, line int, class string, sev model.Severity, msg string) model.Diagnostic {
	return model.Diagnostic{
		Stage:       stage,
		Unit:        unit,
		Class:       class,
		Severity:    sev,
		Line:        line,
		Message:     msg,
		Fingerprint: util.Fingerprint(stage, unit, line, class, msg),
	}
}
