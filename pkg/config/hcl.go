package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// fileRoot mirrors Run with every attribute optional. Nil means "keep the
// default".
type fileRoot struct {
	Name            *string            `hcl:"name,optional"`
	Modes           []string           `hcl:"modes,optional"`
	FixedMode       *string            `hcl:"fixed_mode,optional"`
	Initial         map[string]float64 `hcl:"initial,optional"`
	Target          map[string]float64 `hcl:"target,optional"`
	TargetTolerance *float64           `hcl:"target_tolerance,optional"`
	Iterations      *int               `hcl:"iterations,optional"`
	Debug           *bool              `hcl:"debug,optional"`
	Subpopulation   *string            `hcl:"subpopulation,optional"`
	PersonsCRS      *string            `hcl:"persons_crs,optional"`

	Boundary     *boundaryBlock     `hcl:"boundary,block"`
	Simulator    *simulatorBlock    `hcl:"simulator,block"`
	LearningRate *learningRateBlock `hcl:"learning_rate,block"`
	Chain        *chainBlock        `hcl:"chain,block"`
}

type boundaryBlock struct {
	Path *string `hcl:"path,optional"`
	CRS  *string `hcl:"crs,optional"`
}

type simulatorBlock struct {
	Java    *string `hcl:"java,optional"`
	Jar     *string `hcl:"jar,optional"`
	Config  *string `hcl:"config,optional"`
	Args    *string `hcl:"args,optional"`
	JVMArgs *string `hcl:"jvm_args,optional"`
}

type learningRateBlock struct {
	Start    *float64 `hcl:"start,optional"`
	Interval *int     `hcl:"interval,optional"`
}

type chainBlock struct {
	Iterations *int `hcl:"iterations,optional"`
}

// LoadFile reads an HCL run file and applies it on top of Default. The
// result is not validated.
func LoadFile(path string) (*Run, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse run file %s: %w", path, diags)
	}
	return decode(file.Body, path)
}

// Parse decodes HCL source held in memory. filename is used in diagnostics.
func Parse(src []byte, filename string) (*Run, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse run file %s: %w", filename, diags)
	}
	return decode(file.Body, filename)
}

func decode(body hcl.Body, filename string) (*Run, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, evalContext(), &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode run file %s: %w", filename, diags)
	}
	run := Default()
	root.apply(run)
	return run, nil
}

// evalContext exposes the process environment as env.<NAME> and a few
// string functions for composing paths and argument lists.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
		Functions: map[string]function.Function{
			"format": stdlib.FormatFunc,
			"join":   stdlib.JoinFunc,
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
		},
	}
}

func (f *fileRoot) apply(r *Run) {
	setString(&r.Name, f.Name)
	setString(&r.FixedMode, f.FixedMode)
	setString(&r.Subpopulation, f.Subpopulation)
	setString(&r.PersonsCRS, f.PersonsCRS)
	if f.Modes != nil {
		r.Modes = f.Modes
	}
	if f.Initial != nil {
		r.Initial = f.Initial
	}
	if f.Target != nil {
		r.Target = f.Target
	}
	if f.TargetTolerance != nil {
		r.TargetTolerance = *f.TargetTolerance
	}
	if f.Iterations != nil {
		r.Iterations = *f.Iterations
	}
	if f.Debug != nil {
		r.Debug = *f.Debug
	}
	if b := f.Boundary; b != nil {
		setString(&r.Boundary.Path, b.Path)
		setString(&r.Boundary.CRS, b.CRS)
	}
	if s := f.Simulator; s != nil {
		setString(&r.Simulator.Java, s.Java)
		setString(&r.Simulator.Jar, s.Jar)
		setString(&r.Simulator.Config, s.Config)
		setString(&r.Simulator.Args, s.Args)
		setString(&r.Simulator.JVMArgs, s.JVMArgs)
	}
	if lr := f.LearningRate; lr != nil {
		if lr.Start != nil {
			r.LearningRate.Start = *lr.Start
		}
		if lr.Interval != nil {
			r.LearningRate.Interval = *lr.Interval
		}
	}
	if c := f.Chain; c != nil && c.Iterations != nil {
		r.Chain.Iterations = *c.Iterations
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
