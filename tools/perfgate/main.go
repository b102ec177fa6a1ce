// Package main implements perfgate, which runs the codec benchmarks and fails when
// ns/op or allocs/op regress past the recorded baseline.
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

func parseBenchOutput(output string) map[string]benchmarkResult {
	results := map[string]benchmarkResult{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		// BenchmarkName-20  N  ns/op  [MB/s]  B/op  allocs/op
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		name := fields[0]
		if dash := strings.LastIndex(name, "-"); dash > 0 {
			name = name[:dash]
		}

		var result benchmarkResult
		hasNSOp, hasAllocsOp := false, false
		for index := 0; index < len(fields)-1; index++ {
			switch fields[index+1] {
			case "ns/op":
				if parsed, err := strconv.ParseFloat(fields[index], 64); err == nil {
					result.NSOp = parsed
					hasNSOp = true
				}
			case "allocs/op":
				if parsed, err := strconv.ParseFloat(fields[index], 64); err == nil {
					result.AllocsOp = parsed
					hasAllocsOp = true
				}
			}
		}
		if hasNSOp && hasAllocsOp && result.NSOp > 0 {
			results[name] = result
		}
	}
	return results
}

func loadBaseline(path string) (baselineFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is explicitly provided by local CI/operator input
	if err != nil {
		return baselineFile{}, fmt.Errorf("perf baseline read failed: %w", err)
	}
	baseline := baselineFile{}
	if err := json.Unmarshal(data, &baseline); err != nil {
		return baselineFile{}, fmt.Errorf("perf baseline parse failed: %w", err)
	}
	if len(baseline.Benchmarks) == 0 {
		return baselineFile{}, errors.New("perf baseline is empty")
	}
	return baseline, nil
}

// benchPattern matches exactly the benchmarks named in baseline.
func benchPattern(baseline baselineFile) string {
	names := make([]string, 0, len(baseline.Benchmarks))
	for name := range baseline.Benchmarks {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	return "^(" + strings.Join(names, "|") + ")$"
}

// compare returns every regression beyond maxRegression percent, sorted.
func compare(baseline baselineFile, results map[string]benchmarkResult, maxRegression float64) []string {
	failures := []string{}
	for name, expected := range baseline.Benchmarks {
		actual, ok := results[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("missing benchmark result: %s", name))
			continue
		}

		maxNS := expected.NSOp * (1.0 + (maxRegression / 100.0))
		if actual.NSOp > maxNS {
			failures = append(failures, fmt.Sprintf("%s ns/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.NSOp, actual.NSOp, maxNS))
		}

		maxAllocs := expected.AllocsOp * (1.0 + (maxRegression / 100.0))
		if actual.AllocsOp > maxAllocs {
			failures = append(failures, fmt.Sprintf("%s allocs/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.AllocsOp, actual.AllocsOp, maxAllocs))
		}
	}
	sort.Strings(failures)
	return failures
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "perfgate",
		Short:         "Run codec benchmarks and compare them with the recorded baseline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			baselinePath, _ := cmd.Flags().GetString("baseline")
			packagePath, _ := cmd.Flags().GetString("package")
			benchtime, _ := cmd.Flags().GetString("benchtime")
			maxRegression, _ := cmd.Flags().GetFloat64("max-regression")

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

			out := cmd.OutOrStdout()
			fmt.Fprint(out, output)
			failures := compare(baseline, parseBenchOutput(output), maxRegression)
			if len(failures) == 0 {
				fmt.Fprintln(out, "perf gate: PASS")
				return nil
			}
			fmt.Fprintln(out, "perf gate: FAIL")
			for _, failure := range failures {
				fmt.Fprintf(out, "- %s\n", failure)
			}
			return errGateFailed
		},
	}
	cmd.Flags().String("baseline", "tools/perf_baseline.json", "path to benchmark baseline JSON")
	cmd.Flags().String("package", "./...", "package pattern holding the benchmarks")
	cmd.Flags().String("benchtime", "1s", "go test benchmark duration")
	cmd.Flags().Float64("max-regression", 10.0, "max allowed regression percentage")
	return cmd
}

func main() {
	err := rootCmd().Execute()
	switch {
	case err == nil:
	case errors.Is(err, errGateFailed):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
