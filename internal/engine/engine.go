package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/rollno10/crossContractObfuscation/internal/config"
	"github.com/rollno10/crossContractObfuscation/internal/extractor"
	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/rules"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
	"github.com/rollno10/crossContractObfuscation/internal/storage"
	"github.com/rollno10/crossContractObfuscation/internal/transform"
	"github.com/rollno10/crossContractObfuscation/internal/util"
)

// RegistryFile is the selector registry written next to the final units.
const RegistryFile = "selector_registry.json"

type Engine struct {
	cfg      config.Config
	compiler solidity.Compiler
	registry *transform.Registry
	ledger   *storage.Ledger
}

type Option func(*Engine)

// WithLedger records every obfuscation run in l.
func WithLedger(l *storage.Ledger) Option { return func(e *Engine) { e.ledger = l } }

// New builds an engine with the five built-in stages. compiler may be nil, in
// which case validation is skipped and lowering keeps custom calls high-level.
func New(cfg config.Config, compiler solidity.Compiler, opts ...Option) *Engine {
	reg := transform.NewRegistry()
	reg.RegisterBuiltin()
	e := &Engine{cfg: cfg, compiler: compiler, registry: reg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Stages lists the registered stages in pipeline order.
func (e *Engine) Stages() []transform.Transform { return e.registry.Stages() }

func (e *Engine) workers() int {
	if e.cfg.Workers > 0 {
		return e.cfg.Workers
	}
	return runtime.NumCPU()
}

// Analyze discovers and validates the units under path, extracts their
// interaction records and persists them as a new rule store.
func (e *Engine) Analyze(ctx context.Context, path string) (*model.AnalysisResult, error) {
	start := time.Now()
	units, diags, err := discoverUnits(path, e.cfg, e.cfg.AnalysisDir, e.cfg.OutputDir, e.cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	units, vd := e.validate(ctx, "validate", units)
	diags = append(diags, vd...)

	results := extractor.ExtractBatch(ctx, units, e.workers())
	for _, r := range results {
		switch {
		case r.Err == nil:
			log.WithFields(log.Fields{"unit": r.Unit, "records": len(r.Records)}).Debug("extracted")
		case errors.Is(r.Err, model.ErrExtractionSkip):
			log.WithField("unit", r.Unit).Info("no version pragma, skipped")
			diags = append(diags, newDiagnostic("extract", r.Unit, 0, r.Err))
		default:
			log.WithField("unit", r.Unit).WithError(r.Err).Warn("extraction failed")
			diags = append(diags, newDiagnostic("extract", r.Unit, 0, r.Err))
		}
	}
	records := extractor.Flatten(results)
	store := rules.New(records)
	storePath, err := store.Save(e.cfg.AnalysisDir)
	if err != nil {
		return nil, fmt.Errorf("save rule store: %w", err)
	}
	log.WithFields(log.Fields{"records": len(records), "path": storePath}).Info("rule store written")
	return &model.AnalysisResult{
		Interactions:  store.Interactions,
		RuleStorePath: storePath,
		Units:         len(units),
		Diagnostics:   mergeDiagnostics(diags),
		Elapsed:       time.Since(start),
	}, nil
}

// Obfuscate runs the enabled stages over the units under input, driven by the
// latest rule store. Each stage reads one work directory and writes the other;
// the drained side is purged before it is reused.
func (e *Engine) Obfuscate(ctx context.Context, input string) (*model.ObfuscationResult, error) {
	start := time.Now()
	store, storePath, err := rules.LoadLatest(e.cfg.AnalysisDir)
	if err != nil {
		return nil, err
	}
	units, diags, err := discoverUnits(input, e.cfg, e.cfg.AnalysisDir, e.cfg.OutputDir, e.cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	units, vd := e.validate(ctx, "validate", units)
	diags = append(diags, vd...)

	env := transform.NewEnv(store, e.compiler, e.cfg.Seed)
	if e.cfg.CollisionRetries > 0 {
		env.CollisionRetries = e.cfg.CollisionRetries
	}

	dirs := [2]string{filepath.Join(e.cfg.WorkDir, "a"), filepath.Join(e.cfg.WorkDir, "b")}
	for _, d := range dirs {
		if err := purge(d, e.cfg.SourceExt); err != nil {
			return nil, fmt.Errorf("purge %s: %w", d, err)
		}
	}
	staged, werrs := writeUnits(dirs[0], units)
	for _, err := range werrs {
		diags = append(diags, newDiagnostic("stage", unitOf(err), 0, err))
	}
	if len(werrs) > 0 && len(staged) == 0 && len(units) > 0 {
		return nil, fmt.Errorf("staging failed: %w", werrs[0])
	}

	res := &model.ObfuscationResult{RuleStorePath: storePath, OutputDir: e.cfg.OutputDir}
	changedUnits := map[string]bool{}
	failedUnits := map[string]bool{}
	cur := 0
	for _, stage := range e.registry.Stages() {
		meta := stage.Meta()
		if !e.cfg.Stages.Enabled(meta.ID) {
			log.WithField("stage", meta.ID).Info("stage disabled")
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in, rerrs, err := readUnits(dirs[cur], e.cfg.SourceExt)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", meta.ID, err)
		}
		for _, err := range rerrs {
			log.WithFields(log.Fields{"stage": meta.ID, "unit": unitOf(err)}).WithError(err).Warn("unreadable unit")
			diags = append(diags, newDiagnostic(meta.ID, unitOf(err), 0, err))
			failedUnits[unitOf(err)] = true
		}
		log.WithFields(log.Fields{"stage": meta.ID, "units": len(in)}).Info(meta.Title)

		outcomes := e.registry.Run(ctx, stage, in, env, e.workers())
		next := 1 - cur
		summary := model.StageSummary{Stage: meta.ID, Units: len(in) + len(rerrs), Failed: len(rerrs), OutputDir: dirs[next]}
		out := make([]model.Unit, 0, len(outcomes))
		for _, o := range outcomes {
			diags = append(diags, o.Diagnostics...)
			if o.Err != nil {
				summary.Failed++
				failedUnits[o.Unit.Name] = true
			}
			if o.Changed {
				summary.Changed++
				changedUnits[o.Unit.Name] = true
			}
			out = append(out, o.Unit)
		}
		if err := sameUnitSet(in, out); err != nil {
			return nil, fmt.Errorf("stage %s: %w", meta.ID, err)
		}
		// a unit that cannot be written drops out of later stages
		_, werrs := writeUnits(dirs[next], out)
		for _, err := range werrs {
			diags = append(diags, newDiagnostic(meta.ID, unitOf(err), 0, err))
		}
		if err := purge(dirs[cur], e.cfg.SourceExt); err != nil {
			log.WithField("stage", meta.ID).WithError(err).Warn("purge failed")
		}
		res.Stages = append(res.Stages, summary)
		cur = next
	}

	final, rerrs, err := readUnits(dirs[cur], e.cfg.SourceExt)
	if err != nil {
		return nil, err
	}
	for _, err := range rerrs {
		diags = append(diags, newDiagnostic("output", unitOf(err), 0, err))
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, err
	}
	final, werrs = writeUnits(e.cfg.OutputDir, final)
	for _, err := range werrs {
		diags = append(diags, newDiagnostic("output", unitOf(err), 0, err))
	}
	if err := purge(dirs[cur], e.cfg.SourceExt); err != nil {
		log.WithError(err).Warn("purge failed")
	}

	res.RegistryPath = filepath.Join(e.cfg.OutputDir, RegistryFile)
	if err := env.Selectors.Save(res.RegistryPath); err != nil {
		return nil, fmt.Errorf("save selector registry: %w", err)
	}
	res.Selectors = env.Selectors.Len()

	if e.cfg.FinalValidation {
		_, vd = e.validate(ctx, "final_validation", final)
		for i := range vd {
			// the unit is already written; a failure here is a report, not an exclusion
			if vd[i].Severity == model.SeverityError {
				vd[i].Severity = model.SeverityWarning
			}
		}
		diags = append(diags, vd...)
	}

	res.Diagnostics = mergeDiagnostics(diags)
	res.Elapsed = time.Since(start)

	if e.ledger != nil {
		run := storage.Run{
			StartedAt: start,
			Input:     input,
			RuleStore: storePath,
			OutputDir: e.cfg.OutputDir,
			Seed:      e.cfg.Seed,
			Units:     len(final),
			Changed:   len(changedUnits),
			Failed:    len(failedUnits),
		}
		if id, err := e.ledger.RecordRun(ctx, run, env.Selectors.Snapshot()); err != nil {
			log.WithError(err).Warn("ledger record failed")
		} else {
			log.WithField("run", id).Debug("run recorded")
		}
	}
	log.WithFields(log.Fields{"units": len(final), "selectors": res.Selectors, "output": e.cfg.OutputDir}).Info("obfuscation complete")
	return res, nil
}

// Run analyzes input and then obfuscates it with the rule store just written.
func (e *Engine) Run(ctx context.Context, input string) (*model.AnalysisResult, *model.ObfuscationResult, error) {
	ar, err := e.Analyze(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	obf, err := e.Obfuscate(ctx, input)
	if err != nil {
		return ar, nil, err
	}
	return ar, obf, nil
}

// validate drops units the compiler rejects. A missing compiler degrades to a
// single warning and every unit is kept.
func (e *Engine) validate(ctx context.Context, stage string, units []model.Unit) ([]model.Unit, []model.Diagnostic) {
	if e.compiler == nil || !e.cfg.Compiler.Validate || len(units) == 0 {
		return units, nil
	}
	errs := make([]error, len(units))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers())
	for i, u := range units {
		i, u := i, u
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = e.compiler.Validate(ctx, u)
		}()
	}
	wg.Wait()

	var (
		kept        []model.Unit
		diags       []model.Diagnostic
		unavailable bool
	)
	for i, u := range units {
		err := errs[i]
		switch {
		case err == nil:
			kept = append(kept, u)
		case errors.Is(err, model.ErrCompilerUnavailable):
			kept = append(kept, u)
			if !unavailable {
				unavailable = true
				log.WithError(err).Warn("compiler unavailable, validation skipped")
				d := newDiagnostic(stage, "", 0, err)
				d.Severity = model.SeverityWarning
				diags = append(diags, d)
			}
		default:
			log.WithField("unit", u.Name).WithError(err).Warn("unit failed validation")
			diags = append(diags, newDiagnostic(stage, u.Name, 0, err))
		}
	}
	return kept, diags
}

// newDiagnostic classifies err. Extraction skips are informational, every
// other class is an error for the unit.
func newDiagnostic(stage, unit string, line int, err error) model.Diagnostic {
	class := model.Classify(err)
	sev := model.SeverityError
	if class == model.ClassSkip {
		sev = model.SeverityInfo
	}
	return model.Diagnostic{
		Stage:       stage,
		Unit:        unit,
		Class:       class,
		Severity:    sev,
		Line:        line,
		Message:     err.Error(),
		Fingerprint: util.Fingerprint(stage, unit, line, class, err.Error()),
	}
}

func infoDiagnostic(stage, unit, msg string) model.Diagnostic {
	return model.Diagnostic{
		Stage:       stage,
		Unit:        unit,
		Class:       model.ClassTransform,
		Severity:    model.SeverityInfo,
		Message:     msg,
		Fingerprint: util.Fingerprint(stage, unit, 0, model.ClassTransform, msg),
	}
}

func unitOf(err error) string {
	var ie *model.IOError
	if errors.As(err, &ie) {
		return ie.Unit
	}
	return ""
}
