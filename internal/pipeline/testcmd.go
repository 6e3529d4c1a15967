package pipeline

import "strconv"

// BuildTestCommand renders a TestSpec to a pytest argv. Flag order is fixed
// so the rendered command is stable across runs: paths, verbosity, fail-fast,
// markers, keyword, durations.
func BuildTestCommand(ts TestSpec) []string {
	cmd := []string{"python", "-m", "pytest"}
	cmd = append(cmd, ts.Paths...)
	if ts.Verbose {
		cmd = append(cmd, "-v")
	}
	if ts.Quiet {
		cmd = append(cmd, "-q")
	}
	if ts.FailFast {
		cmd = append(cmd, "-x")
	}
	for _, m := range ts.Markers {
		cmd = append(cmd, "-m", m)
	}
	if ts.Keyword != "" {
		cmd = append(cmd, "-k", ts.Keyword)
	}
	if ts.Durations > 0 {
		cmd = append(cmd, "--durations="+strconv.Itoa(ts.Durations))
	}
	return cmd
}
