package tdd

import (
	"encoding/json"
	"os/exec"
	"strings"
)

// Framework identifies a detected JS/TS test runner. Detection follows
// spec §4.6: inspect package.json first, then look for framework config
// files, and finally fall back to a configured default set.
type Framework string

const (
	FrameworkJest      Framework = "jest"
	FrameworkVitest    Framework = "vitest"
	FrameworkMocha     Framework = "mocha"
	FrameworkUnknown   Framework = "unknown"
)

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// DetectFramework inspects package.json contents (if present) and a list
// of files present in the project root to pick a test framework.
func DetectFramework(packageJSONContents []byte, filesPresent []string, configured []Framework) Framework {
	if len(packageJSONContents) > 0 {
		var pkg packageJSON
		if err := json.Unmarshal(packageJSONContents, &pkg); err == nil {
			if hasAny(pkg.Dependencies, pkg.DevDependencies, "vitest") {
				return FrameworkVitest
			}
			if hasAny(pkg.Dependencies, pkg.DevDependencies, "jest") {
				return FrameworkJest
			}
			if hasAny(pkg.Dependencies, pkg.DevDependencies, "mocha") {
				return FrameworkMocha
			}
		}
	}

	for _, f := range filesPresent {
		switch {
		case strings.Contains(f, "vitest.config"):
			return FrameworkVitest
		case strings.Contains(f, "jest.config"):
			return FrameworkJest
		case strings.Contains(f, ".mocharc"):
			return FrameworkMocha
		}
	}

	if len(configured) > 0 {
		return configured[0]
	}
	return FrameworkUnknown
}

func hasAny(a, b map[string]string, key string) bool {
	if _, ok := a[key]; ok {
		return true
	}
	_, ok := b[key]
	return ok
}

// Command returns the shell argv used to run a single test file for the
// given framework.
func (f Framework) Command(testPath string) []string {
	switch f {
	case FrameworkVitest:
		return []string{"npx", "vitest", "run", testPath}
	case FrameworkJest:
		return []string{"npx", "jest", testPath}
	case FrameworkMocha:
		return []string{"npx", "mocha", testPath}
	default:
		return []string{"npm", "test", "--", testPath}
	}
}

// Runner executes test commands in a working directory. Production code
// shells out via os/exec; tests substitute a stub.
type Runner interface {
	Run(argv []string, dir string) (stdout, stderr string, exitCode int, err error)
}

type execRunner struct{}

func NewExecRunner() Runner { return execRunner{} }

func (execRunner) Run(argv []string, dir string) (string, string, int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	exitCode := 0
	var reportErr error
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		exitCode = -1
		reportErr = runErr
	}
	return stdout.String(), stderr.String(), exitCode, reportErr
}
