package check

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tmplhint/tmplhint/pkg/bridge"
	"github.com/tmplhint/tmplhint/pkg/config"
	"github.com/tmplhint/tmplhint/pkg/hostcheck"
	"github.com/tmplhint/tmplhint/pkg/position"
)

type Handler struct {
	fs  afero.Fs
	out io.Writer
}

func NewCheckCommand() *cobra.Command {
	me := &Handler{}

	cmd := &cobra.Command{
		Use:   "check [globs...]",
		Short: "type-check template documents and report their problems",
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		me.fs = afero.NewOsFs()
		me.out = cmd.OutOrStdout()
		return me.Run(cmd.Context(), args)
	}

	return cmd
}

func (me *Handler) Run(ctx context.Context, args []string) error {
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	ctx = logger.WithContext(ctx)

	paths, err := me.discover(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no template documents matched")
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.NumCPU())

	var mu sync.Mutex
	var problems []string
	var failures *multierror.Error

	for _, path := range paths {
		path := path
		grp.Go(func() error {
			lines, err := me.checkOne(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = multierror.Append(failures, err)
				return nil
			}
			problems = append(problems, lines...)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}
	if err := failures.ErrorOrNil(); err != nil {
		return err
	}

	sort.Strings(problems)
	for _, line := range problems {
		fmt.Fprintln(me.out, line)
	}
	if len(problems) > 0 {
		return errors.Errorf("%d problem(s) in %d document(s)", len(problems), len(paths))
	}
	return nil
}

func (me *Handler) discover(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"**/*.hbs"}
	}
	seen := map[string]bool{}
	var out []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	for _, arg := range args {
		if ok, _ := afero.Exists(me.fs, arg); ok {
			if isDir, _ := afero.IsDir(me.fs, arg); !isDir {
				add(arg)
				continue
			}
		}
		matches, err := doublestar.Glob(afero.NewIOFS(me.fs), filepath.ToSlash(arg))
		if err != nil {
			return nil, errors.Errorf("bad glob %q: %w", arg, err)
		}
		for _, m := range matches {
			add(m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (me *Handler) checkOne(ctx context.Context, path string) ([]string, error) {
	src, err := afero.ReadFile(me.fs, path)
	if err != nil {
		return nil, errors.Errorf("reading %q: %w", path, err)
	}

	cfg, _, err := config.Find(me.fs, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	host, err := hostcheck.BindHost(me.fs, path, cfg.Interop())
	if err != nil {
		return nil, err
	}
	snap, err := bridge.Build(ctx, path, string(src), host, cfg.AmbientThis)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, d := range snap.Diagnostics() {
		at := position.PlaceOf(snap.Source, d.Span.Start)
		lines = append(lines, fmt.Sprintf("%s:%d:%d: [%s] %s",
			path, at.Line+1, at.Character+1, d.Source, d.Message))
	}
	return lines, nil
}
