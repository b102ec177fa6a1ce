package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleOutput = `goos: linux
pkg: github.com/Thejuampi/vitals-client-go/internal/socketio
BenchmarkDecodeReadingFrame-8   	  500000	      2300 ns/op	     512 B/op	      11 allocs/op
BenchmarkStreamRead-8           	 1000000	       700 ns/op	  98.50 MB/s	     128 B/op	       6 allocs/op
BenchmarkBroken-8               	 1000000	       n/a ns/op
PASS
`

func TestParseBenchOutputStripsCPUSuffix(t *testing.T) {
	results := parseBenchOutput(sampleOutput)
	if len(results) != 2 {
		t.Fatalf("expected two parsed benchmarks, got %v", results)
	}
	if got := results["BenchmarkStreamRead"]; got.NSOp != 700 || got.AllocsOp != 6 {
		t.Fatalf("unexpected reader result %+v", got)
	}
}

func TestCompareReportsRegressionsAndMissing(t *testing.T) {
	baseline := baselineFile{Benchmarks: map[string]benchmarkBaseline{
		"BenchmarkDecodeReadingFrame": {NSOp: 2400, AllocsOp: 12},
		"BenchmarkStreamRead":         {NSOp: 600, AllocsOp: 6},
		"BenchmarkEncodeJoinFrame":    {NSOp: 1500, AllocsOp: 14},
	}}
	failures := compare(baseline, parseBenchOutput(sampleOutput), 10)
	if len(failures) != 2 {
		t.Fatalf("unexpected failures %v", failures)
	}
	if !strings.HasPrefix(failures[0], "BenchmarkStreamRead ns/op regression") || failures[1] != "missing benchmark result: BenchmarkEncodeJoinFrame" {
		t.Fatalf("unexpected failures %v", failures)
	}
}

func TestBaselineLoadsAndMatchesExactNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := os.WriteFile(path, []byte(`{"benchmarks":{"BenchmarkB":{"ns_op":1,"allocs_op":0},"BenchmarkA":{"ns_op":1,"allocs_op":0}}}`), 0o600); err != nil {
		t.Fatalf("write baseline: %v", err)
	}
	baseline, err := loadBaseline(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pattern := benchPattern(baseline); pattern != "^(BenchmarkA|BenchmarkB)$" {
		t.Fatalf("unexpected pattern %q", pattern)
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	_ = os.WriteFile(empty, []byte(`{"benchmarks":{}}`), 0o600)
	if _, err := loadBaseline(empty); err == nil {
		t.Fatalf("expected empty baseline to fail")
	}
}
