package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUsage reports arguments that do not satisfy a command's parameter
// schema: wrong arity, an option outside the allowed set, or a parameter the
// invoking role may not supply. It short-circuits dispatch before the handler
// runs.
var ErrUsage = errors.New("usage error")

// param is one declared parameter of a schema entry.
type param struct {
	name      string
	required  bool
	perm      Perm
	options   []string
	remainder bool // trailing arguments joined as free text; must be last
}

// entry is either a literal token that must appear verbatim, or a parameter.
type entry struct {
	literal string
	param   *param
}

// Schema declares a command's parameters: arity, allowed values, per-param
// permission, and whether the final parameter swallows the rest of the line.
//
// Syntax string grammar, one clause per token:
//
//	<name>          required parameter
//	[name]          optional parameter
//	<mod:name>      parameter only usable at or above a permission tier
//	<name=a|b>      parameter restricted to an option set
//	<name+>         remainder parameter, joined as free text (last only)
//	literal         token that must appear exactly
type Schema struct {
	entries []entry
}

// ParseSchema compiles a syntax string. A malformed syntax string is a
// programming error in the registered command and fails registration.
func ParseSchema(syntax string) (*Schema, error) {
	s := &Schema{}
	if syntax == "" {
		return s, nil
	}
	clauses := strings.Fields(syntax)
	sawOptional := false
	names := make(map[string]bool)
	for i, clause := range clauses {
		first, final := clause[0], clause[len(clause)-1]
		if !(first == '<' && final == '>') && !(first == '[' && final == ']') {
			// Positional matching could swallow a literal as the value of a
			// preceding optional, so that ordering is rejected outright.
			if sawOptional {
				return nil, fmt.Errorf("schema %q: literal after optional parameter", syntax)
			}
			s.entries = append(s.entries, entry{literal: clause})
			continue
		}
		p := &param{required: first == '<'}
		if !p.required {
			sawOptional = true
		} else if sawOptional {
			return nil, fmt.Errorf("schema %q: required parameter after optional", syntax)
		}
		tag := clause[1 : len(clause)-1]
		if permName, rest, found := strings.Cut(tag, ":"); found {
			perm, ok := permByName(permName)
			if !ok {
				return nil, fmt.Errorf("schema %q: unknown permission %q", syntax, permName)
			}
			p.perm = perm
			tag = rest
		}
		switch {
		case strings.Contains(tag, "="):
			name, opts, _ := strings.Cut(tag, "=")
			p.name = name
			p.options = strings.Split(opts, "|")
		case strings.HasSuffix(tag, "+"):
			if i != len(clauses)-1 {
				return nil, fmt.Errorf("schema %q: remainder parameter must be last", syntax)
			}
			p.name = strings.TrimSuffix(tag, "+")
			p.remainder = true
		default:
			p.name = tag
		}
		if p.name == "" || names[p.name] {
			return nil, fmt.Errorf("schema %q: missing or duplicate parameter name", syntax)
		}
		names[p.name] = true
		s.entries = append(s.entries, entry{param: p})
	}
	return s, nil
}

func permByName(name string) (Perm, bool) {
	for p, n := range permNames {
		if n == name {
			return p, true
		}
	}
	return PermEveryone, false
}

// ParseArgs matches the argument string against the schema and returns the
// named parameter values. Violations are reported as ErrUsage.
func (s *Schema) ParseArgs(argstr string, role Role) (map[string]string, error) {
	matched := make(map[string]string)
	if len(s.entries) == 0 {
		return matched, nil
	}
	argstr = strings.TrimSpace(argstr)
	if argstr == "" {
		for _, e := range s.entries {
			if e.param == nil || e.param.required {
				return nil, fmt.Errorf("%w: argument(s) required", ErrUsage)
			}
		}
		return matched, nil
	}

	var args []string
	last := s.entries[len(s.entries)-1]
	if last.param != nil && last.param.remainder {
		args = strings.SplitN(argstr, " ", len(s.entries))
	} else {
		args = strings.Fields(argstr)
	}
	minArgs := 0
	for _, e := range s.entries {
		if e.param == nil || e.param.required {
			minArgs++
		}
	}
	if len(args) < minArgs || len(args) > len(s.entries) {
		return nil, fmt.Errorf("%w: expected %d-%d argument(s), got %d", ErrUsage, minArgs, len(s.entries), len(args))
	}

	for i, arg := range args {
		e := s.entries[i]
		if e.param == nil {
			if arg != e.literal {
				return nil, fmt.Errorf("%w: expected %q", ErrUsage, e.literal)
			}
			continue
		}
		p := e.param
		if len(p.options) > 0 && !contains(p.options, arg) {
			return nil, fmt.Errorf("%w: %q must be one of %s", ErrUsage, p.name, strings.Join(p.options, "|"))
		}
		if !p.perm.Allows(role) {
			if p.required {
				return nil, fmt.Errorf("%w: parameter %q requires %s", ErrUsage, p.name, p.perm)
			}
			continue
		}
		matched[p.name] = arg
	}
	return matched, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
