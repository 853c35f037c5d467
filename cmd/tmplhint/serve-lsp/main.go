package serve_lsp

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"gitlab.com/tozd/go/errors"

	"github.com/tmplhint/tmplhint/pkg/lsp"
)

type Handler struct {
	debug   bool
	version string
}

func NewServeLSPCommand(version string) *cobra.Command {
	me := &Handler{version: version}

	cmd := &cobra.Command{
		Use:   "serve-lsp",
		Short: "start the language server",
	}

	cmd.Flags().BoolVar(&me.debug, "debug", false, "enable debug logging")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context())
	}

	return cmd
}

func (me *Handler) Run(ctx context.Context) error {
	level := zerolog.InfoLevel
	verbosity := 1
	if me.debug {
		level = zerolog.DebugLevel
		verbosity = 2
	}

	// stdout belongs to the protocol; everything human-readable goes to
	// stderr
	logger := zerolog.New(os.Stderr).Level(level).With().
		Str("component", "lsp-server").
		Timestamp().
		Logger()
	commonlog.Configure(verbosity, nil)

	server := lsp.NewServer(logger, afero.NewOsFs(), me.version)
	if err := server.RunStdio(); err != nil {
		return errors.Errorf("running language server: %w", err)
	}
	return nil
}
