package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apex/log"

	"github.com/rollno10/crossContractObfuscation/internal/config"
	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// skipDirs are never descended into during discovery.
var skipDirs = map[string]bool{"node_modules": true, "lib": true, "cache": true, "out": true, "artifacts": true}

// discoverUnits returns the units under root (a file or a directory) with the
// configured extension, minus ignored ones. A missing root is fatal. Units are
// named by file base name; a later duplicate name is reported and dropped.
func discoverUnits(root string, cfg config.Config, exclude ...string) ([]model.Unit, []model.Diagnostic, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("input %s: %w", root, err)
	}
	var paths []string
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(root), cfg.SourceExt) {
			return nil, nil, fmt.Errorf("input %s: not a %s file", root, cfg.SourceExt)
		}
		paths = append(paths, root)
		root = filepath.Dir(root)
	} else {
		skip := map[string]bool{}
		for _, ex := range exclude {
			if abs, err := filepath.Abs(ex); err == nil {
				skip[abs] = true
			}
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path == root {
					return nil
				}
				abs, _ := filepath.Abs(path)
				if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") || skip[abs] {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.EqualFold(filepath.Ext(d.Name()), cfg.SourceExt) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	sort.Strings(paths)

	var (
		units []model.Unit
		diags []model.Diagnostic
		seen  = map[string]string{}
	)
	for _, p := range paths {
		name := filepath.Base(p)
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = name
		}
		b, err := os.ReadFile(p)
		if err != nil {
			ioErr := &model.IOError{Unit: name, Op: "read", Err: err}
			diags = append(diags, newDiagnostic("discover", name, 0, ioErr))
			log.WithField("unit", name).WithError(err).Warn("unreadable unit")
			continue
		}
		content := string(b)
		if ignored, reason := isIgnored(rel, content, cfg); ignored {
			log.WithFields(log.Fields{"unit": name, "reason": reason}).Info("unit ignored")
			diags = append(diags, infoDiagnostic("discover", name, "ignored: "+reason))
			continue
		}
		if prev, dup := seen[name]; dup {
			err := &model.IOError{Unit: name, Op: "discover", Err: fmt.Errorf("duplicate unit name, already taken by %s", prev)}
			diags = append(diags, newDiagnostic("discover", name, 0, err))
			log.WithField("unit", name).Warn(err.Error())
			continue
		}
		seen[name] = p
		units = append(units, model.Unit{Name: name, Path: p, Content: content})
	}
	return units, diags, nil
}

// readUnits loads every unit with extension ext directly inside dir. Only an
// unreadable dir is fatal; a unit that fails to load is returned as an error
// and left out.
func readUnits(dir, ext string) ([]model.Unit, []error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var (
		units []model.Unit
		errs  []error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, &model.IOError{Unit: e.Name(), Op: "read", Err: err})
			continue
		}
		units = append(units, model.Unit{Name: e.Name(), Path: p, Content: string(b)})
	}
	return units, errs, nil
}

// writeUnits writes each unit into dir under its name and returns the units
// with their new paths. Failures are per unit.
func writeUnits(dir string, units []model.Unit) ([]model.Unit, []error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, []error{&model.IOError{Unit: dir, Op: "mkdir", Err: err}}
	}
	var (
		out  []model.Unit
		errs []error
	)
	for _, u := range units {
		p := filepath.Join(dir, u.Name)
		if err := os.WriteFile(p, []byte(u.Content), 0o644); err != nil {
			errs = append(errs, &model.IOError{Unit: u.Name, Op: "write", Err: err})
			continue
		}
		u.Path = p
		out = append(out, u)
	}
	return out, errs
}

// purge removes the unit files with extension ext from dir, leaving anything else.
func purge(dir, ext string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sameUnitSet checks the stage file-set invariant.
func sameUnitSet(in, out []model.Unit) error {
	names := map[string]int{}
	for _, u := range in {
		names[u.Name]++
	}
	for _, u := range out {
		names[u.Name]--
	}
	var missing, extra []string
	for n, c := range names {
		switch {
		case c > 0:
			missing = append(missing, n)
		case c < 0:
			extra = append(extra, n)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return fmt.Errorf("unit set changed across stage: missing %v, unexpected %v", missing, extra)
}
