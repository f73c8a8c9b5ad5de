// Package console is the interactive session behind the formula console binary.
package console

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"codeassess/internal/formula"
	appErr "codeassess/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// ErrExit is returned by Execute when the user asks to leave.
var ErrExit = errors.New("exit")

// Session holds the variables a teacher is experimenting with.
type Session struct {
	vars formula.Variables
	out  io.Writer
}

// New creates a session with test=8 and avg(practice)=7.5.
func New(out io.Writer) *Session {
	return &Session{vars: formula.Vars(8, 7.5), out: out}
}

// Vars returns the current variables.
func (s *Session) Vars() formula.Variables {
	return s.vars
}

// Run reads lines until exit, EOF or interrupt.
func (s *Session) Run(rl *readline.Instance) error {
	s.printLine("formula console; type help for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Execute(line); err != nil {
			if errors.Is(err, ErrExit) {
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Execute handles one input line.
func (s *Session) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "vars":
		s.printVars()
		return nil
	}
	if rest, ok := cutCommand(line, "set"); ok {
		return s.handleSet(rest)
	}
	if rest, ok := cutCommand(line, "validate"); ok {
		return s.handleValidate(rest)
	}
	s.evaluate(line)
	return nil
}

func (s *Session) handleSet(args string) error {
	tokens, err := shlex.Split(args)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) != 2 {
		return fmt.Errorf("usage: set test|practice <number|null>")
	}
	val, err := parseValue(tokens[1])
	if err != nil {
		return err
	}
	switch strings.ToLower(tokens[0]) {
	case "test":
		s.vars.Test = val
	case "practice":
		s.vars.AvgPractice = val
	default:
		return fmt.Errorf("unknown variable %q", tokens[0])
	}
	s.printVars()
	return nil
}

func (s *Session) handleValidate(expr string) error {
	if expr == "" {
		return fmt.Errorf("usage: validate <formula>")
	}
	if formula.Validate(expr) {
		s.printLine("valid")
		return nil
	}
	_, err := formula.Compute(expr, formula.Vars(8, 7.5))
	s.printLine("invalid: %s", describe(err))
	return nil
}

func (s *Session) evaluate(expr string) {
	outcome := formula.EvaluateOutcome(expr, s.vars)
	if outcome.Fallback {
		s.printLine("grade %d (default formula, raw %s): %s", outcome.Grade, formatFloat(outcome.Raw), describe(outcome.Err))
		return
	}
	s.printLine("grade %d (raw %s)", outcome.Grade, formatFloat(outcome.Raw))
}

func (s *Session) printVars() {
	s.printLine("test = %s, avg(practice) = %s", formatVar(s.vars.Test), formatVar(s.vars.AvgPractice))
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  set test <n|null>        set the test score")
	s.printLine("  set practice <n|null>    set the average practice score")
	s.printLine("  vars                     show the current values")
	s.printLine("  validate <formula>       check a formula with test=8, avg(practice)=7.5")
	s.printLine("  help | exit")
	s.printLine("any other line is evaluated as a formula, e.g. (test + avg(practice)) / 2")
}

func (s *Session) printLine(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

func cutCommand(line, name string) (string, bool) {
	if line == name {
		return "", true
	}
	if strings.HasPrefix(line, name+" ") {
		return strings.TrimSpace(line[len(name)+1:]), true
	}
	return "", false
}

func parseValue(raw string) (*float64, error) {
	if strings.EqualFold(raw, "null") || strings.EqualFold(raw, "none") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", raw)
	}
	return formula.Float(v), nil
}

func describe(err error) string {
	if e := appErr.GetError(err); e != nil {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}

func formatVar(v *float64) string {
	if v == nil {
		return "null"
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
