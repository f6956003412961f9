// Package simulator builds and runs MATSim invocations.
package simulator

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Invocation is one run of the simulator
type Invocation struct {
	Java    string
	JVMArgs []string
	Jar     string
	Config  string

	// Args are the scenario arguments, passed before Overrides
	Args []string

	// Overrides are --config: arguments computed per run
	Overrides []string

	OutputDir string
	RunID     string
}

// Command returns the full argument vector, program first
func (inv Invocation) Command() []string {
	java := inv.Java
	if java == "" {
		java = "java"
	}
	argv := []string{java}
	argv = append(argv, inv.JVMArgs...)
	argv = append(argv, "-jar", inv.Jar, "run", "--config", inv.Config)
	argv = append(argv, inv.Args...)
	argv = append(argv, inv.Overrides...)
	argv = append(argv, "--output", inv.OutputDir, "--runId", inv.RunID)
	return argv
}

// String renders the command line with arguments quoted where needed
func (inv Invocation) String() string {
	argv := inv.Command()
	out := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\"'$[]*?;&|<>()") {
			out[i] = strconv.Quote(a)
		} else {
			out[i] = a
		}
	}
	return strings.Join(out, " ")
}

// Fields splits an argument string on white space
func Fields(s string) []string {
	return strings.Fields(s)
}

// ConstantArg returns the override setting the alternative-specific
// constant of mode for subpopulation
func ConstantArg(subpopulation, mode string, value float64) string {
	return fmt.Sprintf("--config:scoring.scoringParameters[subpopulation=%s].modeParams[mode=%s].constant=%s",
		subpopulation, mode, strconv.FormatFloat(value, 'g', -1, 64))
}

// ConstantArgs returns one override per mode in modes order. Modes missing
// from constants are set to 0.
func ConstantArgs(subpopulation string, modes []string, constants map[string]float64) []string {
	args := make([]string, 0, len(modes))
	for _, m := range modes {
		args = append(args, ConstantArg(subpopulation, m, constants[m]))
	}
	return args
}

// Output file names MATSim writes into the run directory
const (
	personsSuffix = ".output_persons.csv.gz"
	tripsSuffix   = ".output_trips.csv.gz"
	plansSuffix   = ".output_plans.xml.gz"
)

// Outputs locates the files of a finished run
type Outputs struct {
	Dir   string
	RunID string
}

// OutputsOf returns the outputs of inv
func OutputsOf(inv Invocation) Outputs {
	return Outputs{Dir: inv.OutputDir, RunID: inv.RunID}
}

// Persons returns the path of the person table
func (o Outputs) Persons() string {
	return filepath.Join(o.Dir, o.RunID+personsSuffix)
}

// Trips returns the path of the trip table
func (o Outputs) Trips() string {
	return filepath.Join(o.Dir, o.RunID+tripsSuffix)
}

// Plans returns the path of the final plans
func (o Outputs) Plans() string {
	return filepath.Join(o.Dir, o.RunID+plansSuffix)
}

// HasOverride reports whether args already set the config key, e.g.
// "controller.lastIteration"
func HasOverride(args []string, key string) bool {
	prefix := "--config:" + key + "="
	return slices.ContainsFunc(args, func(a string) bool { return strings.HasPrefix(a, prefix) })
}
