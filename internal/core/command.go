package core

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/serverbot/internal/presence"
)

// Reply delivers a command's output to whoever issued it.
type Reply func(msg string)

// CommandContext describes one invocation.
type CommandContext struct {
	Name    string
	Args    []string
	Origin  presence.ID
	FromCLI bool
	IsAdmin bool
}

// Handler runs a command on the agent goroutine.
type Handler func(cmd *CommandContext, reply Reply)

// CommandSpec is a registry entry.
type CommandSpec struct {
	Description   string
	RequiresAdmin bool
	// Unsafe commands are refused outside the console when unsafe_cmds_only_cli is set.
	Unsafe  bool
	Handler Handler
}

// Router parses command lines, checks permissions and dispatches to handlers
// in registration order.
type Router struct {
	names         []string
	specs         map[string]CommandSpec
	admins        map[presence.ID]struct{}
	unsafeOnlyCLI bool
	log           *zerolog.Logger
}

// NewRouter creates a router with the built-in help command registered.
func NewRouter(admins []string, unsafeOnlyCLI bool, logger *zerolog.Logger) *Router {
	r := &Router{
		specs:         make(map[string]CommandSpec),
		admins:        make(map[presence.ID]struct{}, len(admins)),
		unsafeOnlyCLI: unsafeOnlyCLI,
		log:           logger,
	}
	for _, id := range admins {
		r.admins[presence.ID(strings.TrimSpace(id))] = struct{}{}
	}
	r.Register("help", CommandSpec{
		Description: "Shows this message",
		Handler:     r.help,
	})
	return r
}

// Register adds or replaces a command. Names are case-insensitive.
func (r *Router) Register(name string, spec CommandSpec) {
	name = strings.ToLower(name)
	if _, ok := r.specs[name]; !ok {
		r.names = append(r.names, name)
	}
	r.specs[name] = spec
}

// IsAdmin reports whether origin may run admin commands. The console always may.
func (r *Router) IsAdmin(origin presence.ID) bool {
	if origin == "" {
		return true
	}
	_, ok := r.admins[origin]
	return ok
}

// Dispatch runs one command line. An empty origin means the local console.
func (r *Router) Dispatch(line string, origin presence.ID, reply Reply) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "!"))
	if name == "" {
		return
	}
	cmd := &CommandContext{
		Name:    name,
		Args:    fields[1:],
		Origin:  origin,
		FromCLI: origin == "",
		IsAdmin: r.IsAdmin(origin),
	}

	spec, ok := r.specs[name]
	if !ok {
		r.reject(cmd, reply, coreError(ErrCodeUnknownCommand, "Invalid command, type '"+r.prefix(cmd)+"help' to list available commands"))
		return
	}
	if err := r.check(cmd, spec); err != nil {
		r.reject(cmd, reply, err)
		return
	}

	r.log.Debug().Str("command", name).Str("origin", originName(origin)).Msg("running command")
	spec.Handler(cmd, reply)
}

func (r *Router) check(cmd *CommandContext, spec CommandSpec) *CoreError {
	if spec.RequiresAdmin && !cmd.IsAdmin {
		return coreError(ErrCodePermissionDenied, "You don't have permission to use this command")
	}
	if spec.Unsafe && r.unsafeOnlyCLI && !cmd.FromCLI {
		return coreError(ErrCodeUnsafeCommand, "This command cannot be used here")
	}
	return nil
}

func (r *Router) reject(cmd *CommandContext, reply Reply, err *CoreError) {
	r.log.Info().Str("command", cmd.Name).Str("origin", originName(cmd.Origin)).Str("code", err.Code).Msg("command rejected")
	reply(err.Message)
}

func (r *Router) prefix(cmd *CommandContext) string {
	if cmd.FromCLI {
		return ""
	}
	return "!"
}

// help lists every command the caller could run.
func (r *Router) help(cmd *CommandContext, reply Reply) {
	lines := make([]string, 0, len(r.names))
	for _, name := range r.names {
		spec := r.specs[name]
		if r.check(cmd, spec) != nil {
			continue
		}
		lines = append(lines, r.prefix(cmd)+name+": "+spec.Description)
	}
	reply("Available commands:\n  * " + strings.Join(lines, "\n  * "))
}

func originName(origin presence.ID) string {
	if origin == "" {
		return "console"
	}
	return string(origin)
}
