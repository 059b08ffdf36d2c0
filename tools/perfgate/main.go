// Package main runs the rtm benchmarks named in a baseline file and fails
// when ns/op or allocs/op regress past a percentage.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type benchmarkBaseline struct {
	NSOp     float64 `json:"ns_op"`
	AllocsOp float64 `json:"allocs_op"`
}

type baselineFile struct {
	Benchmarks map[string]benchmarkBaseline `json:"benchmarks"`
}

type benchmarkResult struct {
	NSOp     float64
	AllocsOp float64
}

var errGateFailed = errors.New("perf gate failed")

// parseBenchOutput reads "BenchmarkName-N  iterations  x ns/op  y B/op  z allocs/op"
// lines. Lines without both ns/op and allocs/op are skipped.
func parseBenchOutput(output string) map[string]benchmarkResult {
	results := map[string]benchmarkResult{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := fields[0]
		if dash := strings.LastIndex(name, "-"); dash > 0 {
			name = name[:dash]
		}

		var result benchmarkResult
		hasNSOp, hasAllocsOp := false, false
		for index := 0; index < len(fields)-1; index++ {
			parsed, err := strconv.ParseFloat(fields[index], 64)
			if err != nil {
				continue
			}
			switch fields[index+1] {
			case "ns/op":
				result.NSOp, hasNSOp = parsed, true
			case "allocs/op":
				result.AllocsOp, hasAllocsOp = parsed, true
			}
		}
		if hasNSOp && hasAllocsOp && result.NSOp > 0 {
			results[name] = result
		}
	}
	return results
}

func loadBaseline(path string) (baselineFile, error) {
	baseline := baselineFile{}
	data, err := os.ReadFile(path) // #nosec G304 -- path is explicitly provided by local CI/operator input
	if err != nil {
		return baseline, fmt.Errorf("perf baseline read failed: %w", err)
	}
	if err = json.Unmarshal(data, &baseline); err != nil {
		return baseline, fmt.Errorf("perf baseline parse failed: %w", err)
	}
	if len(baseline.Benchmarks) == 0 {
		return baseline, errors.New("perf baseline is empty")
	}
	return baseline, nil
}

// benchPattern matches exactly the benchmarks listed in baseline.
func benchPattern(baseline baselineFile) string {
	names := make([]string, 0, len(baseline.Benchmarks))
	for name := range baseline.Benchmarks {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	return "^(" + strings.Join(names, "|") + ")$"
}

// compare returns the sorted regressions of results against baseline. A
// zero allocation baseline allows no allocations.
func compare(baseline baselineFile, results map[string]benchmarkResult, maxRegression float64) []string {
	failures := []string{}
	factor := 1.0 + maxRegression/100.0
	for name, expected := range baseline.Benchmarks {
		actual, ok := results[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("missing benchmark result: %s", name))
			continue
		}
		if maxNS := expected.NSOp * factor; actual.NSOp > maxNS {
			failures = append(failures, fmt.Sprintf("%s ns/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.NSOp, actual.NSOp, maxNS))
		}
		if maxAllocs := expected.AllocsOp * factor; actual.AllocsOp > maxAllocs {
			failures = append(failures, fmt.Sprintf("%s allocs/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.AllocsOp, actual.AllocsOp, maxAllocs))
		}
	}
	sort.Strings(failures)
	return failures
}

func rootCmd() *cobra.Command {
	var (
		baselinePath  string
		packagePath   string
		benchtime     string
		maxRegression float64
	)
	cmd := &cobra.Command{
		Use:           "perfgate",
		Short:         "Fail when benchmarks regress against a baseline",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseline, err := loadBaseline(baselinePath)
			if err != nil {
				return err
			}
			command := exec.CommandContext(cmd.Context(), "go", "test", packagePath, "-run", "^$", "-bench", benchPattern(baseline), "-benchmem", "-count=1", "-benchtime="+benchtime) // #nosec G204 -- arguments are passed without shell expansion
			outputBytes, err := command.CombinedOutput()
			output := string(outputBytes)
			if err != nil {
				return fmt.Errorf("benchmark command failed: %w\n%s", err, output)
			}

			failures := compare(baseline, parseBenchOutput(output), maxRegression)
			writer := cmd.OutOrStdout()
			fmt.Fprint(writer, output)
			if len(failures) == 0 {
				fmt.Fprintln(writer, "perf gate: PASS")
				return nil
			}
			fmt.Fprintln(writer, "perf gate: FAIL")
			for _, failure := range failures {
				fmt.Fprintf(writer, "- %s\n", failure)
			}
			return errGateFailed
		},
	}
	cmd.Flags().StringVar(&baselinePath, "baseline", "tools/perf_baseline.json", "Path to benchmark baseline JSON")
	cmd.Flags().StringVar(&packagePath, "package", "./rtm", "Package path for benchmarks")
	cmd.Flags().StringVar(&benchtime, "benchtime", "1s", "go test benchmark duration")
	cmd.Flags().Float64Var(&maxRegression, "max-regression", 10.0, "Max allowed regression percentage")
	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		if errors.Is(err, errGateFailed) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
