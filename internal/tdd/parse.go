package tdd

import (
	"regexp"
	"strconv"
	"strings"
)

// TestOutcome is the aggregate result of one test run.
type TestOutcome struct {
	Passed int
	Failed int
	Total  int
	AllPass bool
}

var (
	jestSummaryRe   = regexp.MustCompile(`Tests:\s+(?:(\d+)\s+failed,\s+)?(\d+)\s+passed,\s+(\d+)\s+total`)
	mochaPassingRe  = regexp.MustCompile(`(\d+)\s+passing`)
	mochaFailingRe  = regexp.MustCompile(`(\d+)\s+failing`)
)

// ParseTestOutput scans test-runner output for pass/fail counts. Runners
// sometimes interleave multiple summaries (watch-mode reruns, retries);
// spec §4.6 requires scanning from the end so the LAST summary wins.
func ParseTestOutput(output string) TestOutcome {
	lines := strings.Split(output, "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if m := jestSummaryRe.FindStringSubmatch(line); m != nil {
			failed := atoiOr(m[1], 0)
			passed := atoiOr(m[2], 0)
			total := atoiOr(m[3], 0)
			return TestOutcome{Passed: passed, Failed: failed, Total: total, AllPass: failed == 0 && total > 0}
		}
	}

	var passing, failing int
	found := false
	for i := len(lines) - 1; i >= 0; i-- {
		if m := mochaFailingRe.FindStringSubmatch(lines[i]); m != nil && failing == 0 {
			failing = atoiOr(m[1], 0)
		}
		if m := mochaPassingRe.FindStringSubmatch(lines[i]); m != nil {
			passing = atoiOr(m[1], 0)
			found = true
			break
		}
	}
	if found {
		return TestOutcome{Passed: passing, Failed: failing, Total: passing + failing, AllPass: failing == 0}
	}

	return TestOutcome{AllPass: false}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
