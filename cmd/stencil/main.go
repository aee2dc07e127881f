package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/docs"
	"github.com/jorge-barreto/stencil/internal/doctor"
	"github.com/jorge-barreto/stencil/internal/logging"
	"github.com/jorge-barreto/stencil/internal/prompt"
	"github.com/jorge-barreto/stencil/internal/runner"
	"github.com/jorge-barreto/stencil/internal/scaffold"
	"github.com/jorge-barreto/stencil/internal/state"
	"github.com/jorge-barreto/stencil/internal/ux"
	"github.com/jorge-barreto/stencil/internal/watch"
)

func main() {
	app := &cli.Command{
		Name:        "stencil",
		Usage:       "Render project templates and sync instance edits back",
		Description: "Run 'stencil docs' for documentation on manifests, config, reverse sync, and more.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cache-dir", Usage: "Instance cache directory (env STENCIL_CACHE_DIR)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, or error (env STENCIL_LOG_LEVEL)"},
			&cli.StringFlag{Name: "log-format", Usage: "text or json (env STENCIL_LOG_FORMAT)"},
			&cli.IntFlag{Name: "jobs", Usage: "Concurrent renders for --all (env STENCIL_JOBS)"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			s := loadSettings(cmd)
			return logging.WithLogger(ctx, logging.New(s.LogLevel, s.LogFormat, os.Stderr)), nil
		},
		Commands: []*cli.Command{
			initCmd(),
			renderCmd(),
			cycleCmd(runner.ModeCheck),
			cycleCmd(runner.ModeSync),
			statusCmd(),
			invalidateCmd(),
			purgeCmd(),
			watchCmd(),
			doctorCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
		os.Exit(1)
	}
}

func contextFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "context", Aliases: []string{"c"}, Usage: "Context name (default: first in config)"},
		&cli.StringSliceFlag{Name: "set", Usage: "Override a context value (key=value, repeatable)"},
		&cli.StringFlag{Name: "context-file", Usage: "YAML file of context values"},
		&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "Prompt for values not set otherwise"},
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize .stencil/ with an example config and template",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "template", Usage: "Use an existing template directory instead of the example"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			return scaffold.Init(dir, scaffold.Options{Template: cmd.String("template")})
		},
	}
}

func renderCmd() *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "Render a context into the cache (or a directory)",
		Flags: append(contextFlags(),
			&cli.BoolFlag{Name: "all", Usage: "Render every context"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Render a fresh copy into this directory instead of the cache"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			tmpl, err := p.template()
			if err != nil {
				return err
			}
			if cmd.Bool("all") && (cmd.IsSet("context") || cmd.Bool("interactive")) {
				return fmt.Errorf("--all cannot be combined with --context or --interactive")
			}

			var names []string
			var models []*ctxmodel.Model
			if cmd.Bool("all") {
				for i := range p.cfg.Contexts {
					c := &p.cfg.Contexts[i]
					raw, err := inputs(ctx, cmd, tmpl, c, prompt.Survey{})
					if err != nil {
						return err
					}
					m, err := ctxmodel.Build(tmpl.Manifest, raw)
					if err != nil {
						return fmt.Errorf("context %s: %w", c.Name, err)
					}
					names = append(names, c.Name)
					models = append(models, m)
				}
			} else {
				c, m, err := p.model(ctx, cmd, tmpl)
				if err != nil {
					return err
				}
				names = append(names, c.Name)
				models = append(models, m)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if out := cmd.String("output"); out != "" {
				for i, m := range models {
					res, err := p.renderer.Render(ctx, tmpl, m, out)
					if err != nil {
						return fmt.Errorf("context %s: %w", names[i], err)
					}
					ux.Info("%-16s %s", names[i], res.Root)
				}
				return nil
			}

			insts, err := p.cache.Warm(ctx, tmpl, models, p.settings.Jobs)
			if err != nil {
				return err
			}
			for i, inst := range insts {
				how := "rendered"
				if inst.Reused {
					how = "reused"
				}
				ux.Info("%-16s %s %s(%s)%s", names[i], inst.Root, ux.Dim, how, ux.Reset)
			}
			return nil
		},
	}
}

func cycleCmd(mode runner.Mode) *cli.Command {
	usage := "Render and run the check pipeline"
	flags := contextFlags()
	if mode == runner.ModeSync {
		usage = "Render, run the pipeline, and sync instance edits back to the template"
		flags = append(flags,
			&cli.BoolFlag{Name: "dry-run", Usage: "Plan the sync and print the diff without writing"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Apply without asking"},
		)
	}
	return &cli.Command{
		Name:  string(mode),
		Usage: usage,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			tmpl, err := p.template()
			if err != nil {
				return err
			}
			c, m, err := p.model(ctx, cmd, tmpl)
			if err != nil {
				return err
			}
			r := p.runner(tmpl, c.Name, m)
			if mode == runner.ModeSync {
				r.DryRun = cmd.Bool("dry-run")
				if !r.DryRun && !cmd.Bool("yes") {
					r.Confirm = prompt.ConfirmSync(ctx, prompt.Survey{})
				}
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			sum, err := r.Run(ctx, mode)
			if err != nil {
				return err
			}
			if r.DryRun && sum.Sync != nil {
				for _, ch := range sum.Sync.Changes {
					d, err := ch.Unified()
					if err != nil {
						return err
					}
					ux.Diff(d)
				}
			}
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the last cycle and cached instances",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(p.stateDir())
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			ux.RenderStatus(st, p.cache.List(), p.cache.Root(), p.stateDir())
			return nil
		},
	}
}

func invalidateCmd() *cli.Command {
	return &cli.Command{
		Name:  "invalidate",
		Usage: "Remove the cached instance of a context",
		Flags: append(contextFlags(),
			&cli.BoolFlag{Name: "force", Usage: "Delete even without an instance marker"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			tmpl, err := p.template()
			if err != nil {
				return err
			}
			c, m, err := p.model(ctx, cmd, tmpl)
			if err != nil {
				return err
			}
			if err := p.cache.Invalidate(ctx, tmpl, m, removeOptions(ctx, cmd)...); err != nil {
				return err
			}
			ux.Success(fmt.Sprintf("invalidated %s", c.Name))
			return nil
		},
	}
}

func purgeCmd() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Remove every cached instance",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Delete even without instance markers"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			n := len(p.cache.List())
			if err := p.cache.PurgeAll(ctx, removeOptions(ctx, cmd)...); err != nil {
				return err
			}
			ux.Success(fmt.Sprintf("removed %d instance(s)", n))
			return nil
		},
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Re-run check (or sync) whenever the template changes",
		Flags: append(contextFlags(),
			&cli.BoolFlag{Name: "sync", Usage: "Run sync instead of check; changes are applied without asking"},
			&cli.DurationFlag{Name: "debounce", Value: 500 * time.Millisecond, Usage: "Quiet period before a re-run"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			mode := runner.ModeCheck
			if cmd.Bool("sync") {
				mode = runner.ModeSync
			}
			log := logging.FromContext(ctx)

			if cmd.Bool("interactive") {
				return fmt.Errorf("--interactive cannot be used with watch")
			}
			cycle := func(ctx context.Context) {
				if err := runCycle(ctx, p, cmd, mode); err != nil && !errors.Is(err, context.Canceled) {
					fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
				}
			}

			w, err := watch.New(cmd.Duration("debounce"))
			if err != nil {
				return err
			}
			defer w.Close()
			if err := w.AddRecursive(p.cfg.TemplateDir()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cycle(ctx)
			ux.Info("watching %s (ctrl-c to stop)", p.cfg.TemplateDir())
			return w.Run(ctx, func(ctx context.Context, events []watch.Event) error {
				for _, e := range events {
					log.Info("template changed", "path", e.Path, "op", e.Op.String())
				}
				cycle(ctx)
				return nil
			})
		},
	}
}

// runCycle reopens the template, since the manifest may have changed too,
// and runs one cycle.
func runCycle(ctx context.Context, p *project, cmd *cli.Command, mode runner.Mode) error {
	tmpl, err := p.template()
	if err != nil {
		return err
	}
	c, m, err := p.model(ctx, cmd, tmpl)
	if err != nil {
		return err
	}
	_, err = p.runner(tmpl, c.Name, m).Run(ctx, mode)
	return err
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check the template, pipeline tools, cache, and last cycle",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			rep := doctor.Run(ctx, doctor.Input{
				Config:   p.cfg,
				Cache:    p.cache,
				StateDir: p.stateDir(),
				Renderer: p.renderer,
			})
			doctor.Print(rep)
			if rep.Failed() {
				return fmt.Errorf("doctor found problems")
			}
			return nil
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Print("\nAvailable topics:\n\n")
				for _, t := range docs.All() {
					fmt.Printf("  %-14s %s\n", t.Name, t.Summary)
				}
				fmt.Println("\nRun 'stencil docs <topic>' to read a topic.")
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Print(t.Content)
			return nil
		},
	}
}
