package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFile_OverridesDefaults(t *testing.T) {
	// --- Arrange ---
	t.Setenv("MATSIMCAL_INPUT", "/data/input")
	src := `
name       = "calib-2"
iterations = 3
debug      = false

initial = {
  car     = -1.0
  pt      = -0.25
  taxibus = -0.5
}

boundary {
  path = format("%s/cityArea/area.shp", env.MATSIMCAL_INPUT)
}

simulator {
  jar      = "scenario.jar"
  jvm_args = join(" ", ["-Xmx8G", "-XX:+UseParallelGC"])
}

learning_rate {
  start = 0.5
}
`
	path := filepath.Join(t.TempDir(), "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0600), "failed to set up run file")

	// --- Act ---
	run, err := LoadFile(path)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, "calib-2", run.Name)
	require.Equal(t, 3, run.Iterations)
	require.False(t, run.Debug)
	require.Equal(t, -1.0, run.Initial["car"])
	require.NotContains(t, run.Initial, "bike", "initial map is replaced, not merged")
	require.Equal(t, "/data/input/cityArea/area.shp", run.Boundary.Path)
	require.Equal(t, DefaultPersonsCRS, run.Boundary.CRS, "unset block attributes keep defaults")
	require.Equal(t, "scenario.jar", run.Simulator.Jar)
	require.Equal(t, "-Xmx8G -XX:+UseParallelGC", run.Simulator.JVMArgs)
	require.Equal(t, Default().Simulator.Config, run.Simulator.Config)
	require.Equal(t, 0.5, run.LearningRate.Start)
	require.Equal(t, 15, run.LearningRate.Interval)
	require.NoError(t, run.Validate())
}

func TestParse_EmptyFileYieldsDefaults(t *testing.T) {
	run, err := Parse([]byte(""), "empty.hcl")
	require.NoError(t, err)
	require.Equal(t, Default(), run)
}

func TestParse_ModesAndTargets(t *testing.T) {
	src := `
modes      = ["walk", "car"]
fixed_mode = "car"
initial    = { walk = 0.2 }
target     = { walk = 0.4, car = 0.6 }
`
	run, err := Parse([]byte(src), "two-modes.hcl")
	require.NoError(t, err)
	require.Equal(t, []string{"walk", "car"}, run.Modes)
	require.Equal(t, "car", run.FixedMode)
	require.Equal(t, []string{"walk"}, run.CalibratedModes())
	require.NoError(t, run.Validate())
}

func TestParse_InvalidHCLIsRejected(t *testing.T) {
	_, err := Parse([]byte(`simulator {`), "broken.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse run file broken.hcl")
}

func TestParse_UnknownAttributeIsRejected(t *testing.T) {
	_, err := Parse([]byte(`iterationz = 4`), "typo.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode run file typo.hcl")
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.hcl"))
	require.Error(t, err)
}
