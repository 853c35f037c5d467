// Package lsp exposes the template intelligence pipeline over the Language
// Server Protocol.
package lsp

import (
	"context"
	"path/filepath"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/tmplhint/tmplhint/pkg/registry"
)

const ServerName = "tmplhint"

// Server is one editing session: a document registry plus the protocol
// handlers querying it.
type Server struct {
	version string
	log     zerolog.Logger
	reg     *registry.Registry
	handler *protocol.Handler
}

func NewServer(logger zerolog.Logger, fsys afero.Fs, version string) *Server {
	s := &Server{
		version: version,
		log:     logger.With().Str("session", xid.New().String()).Logger(),
		reg:     registry.New(fsys),
	}
	s.handler = &protocol.Handler{
		Initialize:             s.initialize,
		Initialized:            s.initialized,
		Shutdown:               s.shutdown,
		SetTrace:               s.setTrace,
		TextDocumentDidOpen:    s.textDocumentDidOpen,
		TextDocumentDidChange:  s.textDocumentDidChange,
		TextDocumentDidSave:    s.textDocumentDidSave,
		TextDocumentDidClose:   s.textDocumentDidClose,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}
	return s
}

// RunStdio serves the session over stdin/stdout until the client
// disconnects.
func (s *Server) RunStdio() error {
	return server.NewServer(s.handler, ServerName, false).RunStdio()
}

func (s *Server) ctx() context.Context {
	return s.log.WithContext(context.Background())
}

func (s *Server) initialize(_ *glsp.Context, params *protocol.InitializeParams) (any, error) {
	if params.ClientInfo != nil {
		s.log.Info().Str("client", params.ClientInfo.Name).Msg("initializing")
	}

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.True},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    ServerName,
			Version: &s.version,
		},
	}, nil
}

func (s *Server) initialized(*glsp.Context, *protocol.InitializedParams) error {
	return nil
}

func (s *Server) shutdown(*glsp.Context) error {
	s.log.Info().Msg("shutting down")
	return nil
}

func (s *Server) setTrace(*glsp.Context, *protocol.SetTraceParams) error {
	return nil
}

func (s *Server) textDocumentDidOpen(glspCtx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	path := uriToPath(params.TextDocument.URI)
	s.reg.Open(path, params.TextDocument.Text, int(params.TextDocument.Version))
	s.publishDiagnostics(glspCtx, params.TextDocument.URI, path)
	return nil
}

func (s *Server) textDocumentDidChange(glspCtx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	path := uriToPath(params.TextDocument.URI)
	version := int(params.TextDocument.Version)

	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			s.reg.Update(path, c.Text, version)
		case protocol.TextDocumentContentChangeEvent:
			// full sync is negotiated, but a ranged edit still applies
			src, ok := s.reg.Source(path)
			if !ok {
				continue
			}
			if c.Range == nil {
				s.reg.Update(path, c.Text, version)
				continue
			}
			start := toOffset(src, c.Range.Start)
			end := toOffset(src, c.Range.End)
			s.reg.Update(path, src[:start]+c.Text+src[end:], version)
		}
	}

	s.publishDiagnostics(glspCtx, params.TextDocument.URI, path)
	return nil
}

func (s *Server) textDocumentDidSave(glspCtx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	path := uriToPath(params.TextDocument.URI)
	if params.Text != nil {
		s.reg.Update(path, *params.Text, 0)
	} else {
		// sibling Go sources may have changed on disk
		src, ok := s.reg.Source(path)
		if ok {
			s.reg.Update(path, src, 0)
		}
	}
	s.publishDiagnostics(glspCtx, params.TextDocument.URI, path)
	return nil
}

func (s *Server) textDocumentDidClose(_ *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.reg.Close(uriToPath(params.TextDocument.URI))
	return nil
}

func (s *Server) publishDiagnostics(glspCtx *glsp.Context, uri protocol.DocumentUri, path string) {
	diagnostics := []protocol.Diagnostic{}
	snap, _, err := s.reg.Snapshot(s.ctx(), path)
	if err != nil {
		// still notify, or the client keeps showing the last good list
		s.log.Warn().Err(err).Str("doc", path).Msg("snapshot failed")
	} else {
		diagnostics = toProtocolDiagnostics(snap.Source, snap.Diagnostics())
	}
	glspCtx.Notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func (s *Server) textDocumentHover(_ *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	snap, _, err := s.reg.Snapshot(s.ctx(), uriToPath(params.TextDocument.URI))
	if err != nil {
		return nil, nil
	}
	h, ok := snap.HoverAt(toOffset(snap.Source, params.Position))
	if !ok {
		return nil, nil
	}
	rng := toRange(snap.Source, h.Span)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: formatHover(h),
		},
		Range: &rng,
	}, nil
}

func (s *Server) textDocumentDefinition(_ *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	path := uriToPath(params.TextDocument.URI)
	snap, _, err := s.reg.Snapshot(s.ctx(), path)
	if err != nil {
		return nil, nil
	}
	loc, ok := snap.DefinitionAt(toOffset(snap.Source, params.Position))
	if !ok {
		return nil, nil
	}
	if loc.Template {
		return protocol.Location{
			URI:   params.TextDocument.URI,
			Range: toRange(snap.Source, loc.Span),
		}, nil
	}
	hostPath := filepath.Join(filepath.Dir(path), loc.Path)
	return protocol.Location{
		URI:   pathToURI(hostPath),
		Range: toRange(snap.Host.Files[loc.Path], loc.Span),
	}, nil
}

func (s *Server) textDocumentReferences(_ *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	path := uriToPath(params.TextDocument.URI)
	snap, _, err := s.reg.Snapshot(s.ctx(), path)
	if err != nil {
		return nil, nil
	}
	refs := snap.ReferencesAt(toOffset(snap.Source, params.Position), params.Context.IncludeDeclaration)
	out := make([]protocol.Location, 0, len(refs))
	for _, ref := range refs {
		if ref.Template {
			out = append(out, protocol.Location{
				URI:   params.TextDocument.URI,
				Range: toRange(snap.Source, ref.Span),
			})
			continue
		}
		out = append(out, protocol.Location{
			URI:   pathToURI(filepath.Join(filepath.Dir(path), ref.Path)),
			Range: toRange(snap.Host.Files[ref.Path], ref.Span),
		})
	}
	return out, nil
}
