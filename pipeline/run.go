package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/minios-linux/gametl/lockfile"
	"github.com/minios-linux/gametl/report"
)

// Run translates files, given relative to InputDir, on the file pool and
// writes each result under OutputDir. A failing file is recorded and the
// run continues; Run itself only fails when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, files []string) error {
	if r.opts.Parse == nil {
		return fmt.Errorf("pipeline: no parser configured")
	}
	err := runParallel(ctx, files, positive(r.opts.FileThreads, DefaultFileThreads), 0, func(ctx context.Context, rel string) error {
		res := r.runFile(ctx, rel)
		r.acc.AddResult(res)
		if r.opts.OnFile != nil {
			r.opts.OnFile(res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if r.opts.Lock != nil && !r.opts.Estimate {
		if err := r.opts.Lock.Save(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runFile(ctx context.Context, rel string) report.FileResult {
	start := time.Now()
	res := report.FileResult{File: rel}
	log := r.log.WithField("file", rel)

	fail := func(err error) report.FileResult {
		res.Err = err
		res.Elapsed = time.Since(start)
		log.WithError(err).Error("file failed")
		return res
	}

	data, err := os.ReadFile(filepath.Join(r.opts.InputDir, rel))
	if err != nil {
		return fail(fmt.Errorf("reading %s: %w", rel, err))
	}

	key := lockfile.FileKey(rel)
	content := lockfile.Content(data, r.opts.LockSettings...)
	if r.opts.Lock != nil && !r.opts.Force && !r.opts.Estimate &&
		!r.opts.Lock.IsChanged(r.opts.Language, key, content) {
		res.Unchanged = true
		log.Debug("unchanged since last run")
		return res
	}

	doc, err := r.opts.Parse(rel, data)
	if err != nil {
		return fail(fmt.Errorf("parsing %s: %w", rel, err))
	}

	dr, err := r.TranslateDocument(ctx, rel, doc)
	res.Tokens = dr.Tokens
	res.Mismatches = dr.Mismatches
	if err != nil {
		return fail(err)
	}

	if !r.opts.Estimate {
		out, err := doc.Marshal()
		if err != nil {
			return fail(fmt.Errorf("encoding %s: %w", rel, err))
		}
		dst := filepath.Join(r.opts.OutputDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fail(fmt.Errorf("creating %s: %w", filepath.Dir(dst), err))
		}
		if err := os.WriteFile(dst, out, 0644); err != nil {
			return fail(fmt.Errorf("writing %s: %w", dst, err))
		}
		if r.opts.Lock != nil {
			if dr.Mismatches == 0 {
				r.opts.Lock.Update(r.opts.Language, key, content)
			} else {
				r.opts.Lock.Forget(r.opts.Language, key)
			}
		}
	}

	res.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{
		"input":      res.Tokens.Input,
		"output":     res.Tokens.Output,
		"mismatches": res.Mismatches,
	}).Info("file done")
	return res
}
