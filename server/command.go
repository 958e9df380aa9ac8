package server

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mfaure/git-as-svn/proto"
)

// Command is one entry of the command registry.
type Command struct {
	Name  string
	Shape Shape
	run   func(ctx context.Context, s *Session, args Args) error
}

// command builds a Command whose arguments are bound into P by a
// hand-written binder before handle runs.
func command[P any](name string, shape Shape, bind func(Args) P, handle func(ctx context.Context, s *Session, p P) error) Command {
	return Command{
		Name:  name,
		Shape: shape,
		run: func(ctx context.Context, s *Session, args Args) error {
			return handle(ctx, s, bind(args))
		},
	}
}

// Commands returns the command registry.
func Commands() map[string]Command {
	cmds := []Command{
		getDirCommand(),
		getLatestRevCommand(),
		getDatedRevCommand(),
		reparentCommand(),
		revPropListCommand(),
		revPropCommand(),
		checkPathCommand(),
		statCommand(),
		getFileCommand(),
		logCommand(),
		getLockCommand(),
		getLocksCommand(),
		getIPropsCommand(),
	}
	reg := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		reg[c.Name] = c
	}
	return reg
}

// commandNames returns the registered command names, sorted.
func commandNames(reg map[string]Command) []string {
	names := make([]string, 0, len(reg))
	for name := range reg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dispatch runs one command item read from the client. Domain failures
// become failure replies; the returned error is connection-fatal, which
// includes commands whose arguments do not match their shape.
func (srv *Server) dispatch(ctx context.Context, s *Session, item proto.Item) error {
	w := s.w

	name, argItems, ok := splitCommand(item)
	if !ok {
		return malformed(w, fmt.Errorf("%w: command is not ( name ( args ) )", errBinding))
	}
	log := s.log.WithField("command", name)

	cmd, ok := srv.commands[name]
	if !ok {
		log.Debug("unknown command")
		writeFailure(w, CodeUnknownCommand, fmt.Sprintf("Unknown command '%s'", name))
		return w.Flush()
	}

	args, err := cmd.Shape.Bind(argItems)
	if err != nil {
		return malformed(w, fmt.Errorf("%s: %w", name, err))
	}

	// Empty auth request; ra_svn clients expect it ahead of each response.
	w.ListBegin().Word("success").ListBegin().ListBegin().ListEnd().String("").ListEnd().ListEnd()
	if err := w.Flush(); err != nil {
		return err
	}

	err = cmd.run(ctx, s, args)
	if ctx.Err() != nil {
		w.Discard()
		return ctx.Err()
	}

	var se *streamError
	if err != nil && !errors.As(err, &se) {
		w.Discard()
	}

	var ce *ClientError
	switch {
	case err == nil:
	case errors.As(err, &ce):
		log.WithField("code", ce.Code).Debug(ce.Message)
		writeFailure(w, ce.Code, ce.Message)
	default:
		log.WithError(err).WithField("repo", s.RepoName).Error("command failed")
		writeFailure(w, CodeGeneric, err.Error())
	}
	return w.Flush()
}

// malformed reports a framing error to the client and returns it, which
// ends the connection.
func malformed(w *proto.Writer, err error) error {
	writeFailure(w, CodeMalformedData, "Malformed network data")
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	return err
}

// splitCommand splits ( name ( args... ) ).
func splitCommand(item proto.Item) (string, []proto.Item, bool) {
	if item.Kind != proto.KindList || len(item.List) < 2 {
		return "", nil, false
	}
	name, args := item.List[0], item.List[1]
	if name.Kind != proto.KindWord || args.Kind != proto.KindList {
		return "", nil, false
	}
	return name.Word, args.List, true
}
