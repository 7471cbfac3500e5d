package command

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/ws2dgo/server/internal/server"
)

var (
	ErrDuplicateAlias = errors.New("command: alias already registered")
	ErrNoAlias        = errors.New("command: command has no alias")
)

// Command is a console command. Run is called on the tick goroutine unless
// Detached is set, in which case it runs on the console goroutine and must
// not touch server state. args[0] is the alias that was typed.
type Command struct {
	Aliases  []string
	Usage    string
	Detached bool
	Run      func(srv *server.Server, out io.Writer, args []string) error
}

// Registry maps case-folded aliases to commands.
type Registry struct {
	byAlias map[string]*Command
	order   []*Command
	fold    cases.Caser
}

func NewRegistry() *Registry {
	return &Registry{
		byAlias: make(map[string]*Command),
		fold:    cases.Fold(),
	}
}

// Register adds cmd under all of its aliases. Nothing is registered if any
// alias is taken.
func (r *Registry) Register(cmd Command) error {
	if len(cmd.Aliases) == 0 {
		return ErrNoAlias
	}
	keys := make([]string, 0, len(cmd.Aliases))
	for _, alias := range cmd.Aliases {
		key := r.key(alias)
		if key == "" {
			return fmt.Errorf("register %q: %w", cmd.Aliases, ErrNoAlias)
		}
		if _, dup := r.byAlias[key]; dup {
			return fmt.Errorf("register %q: %w: %s", cmd.Aliases, ErrDuplicateAlias, alias)
		}
		for _, k := range keys {
			if k == key {
				return fmt.Errorf("register %q: %w: %s", cmd.Aliases, ErrDuplicateAlias, alias)
			}
		}
		keys = append(keys, key)
	}

	c := &cmd
	c.Aliases = keys
	for _, k := range keys {
		r.byAlias[k] = c
	}
	r.order = append(r.order, c)
	return nil
}

// Lookup finds the command for an alias, ignoring case.
func (r *Registry) Lookup(alias string) (*Command, bool) {
	c, ok := r.byAlias[r.key(alias)]
	return c, ok
}

// Aliases returns every registered alias, sorted.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.byAlias))
	for k := range r.byAlias {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Commands returns the commands in registration order.
func (r *Registry) Commands() []*Command {
	return append([]*Command(nil), r.order...)
}

func (r *Registry) key(alias string) string {
	return r.fold.String(strings.TrimSpace(alias))
}
