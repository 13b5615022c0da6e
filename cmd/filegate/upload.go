package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/filegate/filegate/internal/lifecycle"
	"github.com/filegate/filegate/internal/observability"
	"github.com/filegate/filegate/internal/preview"
)

func uploadCmd() *cobra.Command {
	var withTrace bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload one or more files and wait for their scan verdict",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if withTrace {
				tp, err := observability.InitTracerProvider(ctx, a.log)
				if err != nil {
					return err
				}
				defer observability.ShutdownTracerProvider(ctx, tp, a.log)
			}

			var previewer *preview.Generator
			if a.cfg.PreviewDir != "" {
				previewer, err = preview.NewGenerator(a.cfg.PreviewDir, a.log)
				if err != nil {
					return err
				}
			}

			return uploadAll(ctx, args, a.cfg.UploadConcurrency, func(ctx context.Context, path string) error {
				return a.runUpload(ctx, path, previewer)
			})
		},
	}

	cmd.Flags().BoolVar(&withTrace, "trace", false, "emit OpenTelemetry spans to stdout")
	return cmd
}

// uploadAll runs each file's lifecycle independently under the
// concurrency limit. Files do not share fate: one file's threat verdict
// or failure never aborts the others, every file reaches its own
// terminal phase. Wait reports the first error for the exit code.
func uploadAll(ctx context.Context, paths []string, limit int, run func(context.Context, string) error) error {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, path := range paths {
		g.Go(func() error {
			return run(ctx, path)
		})
	}
	return g.Wait()
}

// runUpload drives one file through the whole lifecycle: presign, size
// validation, binary PUT, then scan polling until a verdict.
func (a *app) runUpload(ctx context.Context, path string, previewer *preview.Generator) error {
	ctl := lifecycle.NewController(a.log, a.settings(), a.gw)
	ctl.SetMetrics(a.metrics)
	if a.journal != nil {
		ctl.SetJournal(a.journal)
	}
	if previewer != nil {
		ctl.SetPreviewer(previewer)
	}
	ctl.SetObserver(&consoleObserver{name: filepath.Base(path)})

	if err := ctl.Select(ctx, path); err != nil {
		return err
	}
	return ctl.Upload(ctx)
}

// consoleObserver prints phase transitions and the synthetic progress
// value. Progress events arrive from the estimator's goroutine, so output
// is serialized with a mutex.
type consoleObserver struct {
	mu          sync.Mutex
	name        string
	midProgress bool
}

func (o *consoleObserver) PhaseChanged(phase lifecycle.Phase, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.midProgress {
		fmt.Println()
		o.midProgress = false
	}
	if message != "" {
		fmt.Printf("[%s] %s: %s\n", o.name, phase, message)
	} else {
		fmt.Printf("[%s] %s\n", o.name, phase)
	}
}

func (o *consoleObserver) Progress(value int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Printf("\r[%s] uploading: %d%%", o.name, value)
	o.midProgress = true
}
