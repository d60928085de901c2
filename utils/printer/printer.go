package printer

import (
	"fmt"
	"runtime"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Version information, filled in by the build via -ldflags.
var (
	PerfmonBuildTS   = "None"
	PerfmonGitHash   = "None"
	PerfmonGitBranch = "None"
)

// PrintPerfmonInfo prints the perfmon version information.
func PrintPerfmonInfo() {
	log.Info("Welcome to perfmon.",
		zap.String("Git Commit Hash", PerfmonGitHash),
		zap.String("Git Branch", PerfmonGitBranch),
		zap.String("UTC Build Time", PerfmonBuildTS),
		zap.String("GoVersion", runtime.Version()))
}

func GetPerfmonInfo() string {
	return fmt.Sprintf("Git Commit Hash: %s\n"+
		"Git Branch: %s\n"+
		"UTC Build Time: %s\n"+
		"GoVersion: %s",
		PerfmonGitHash,
		PerfmonGitBranch,
		PerfmonBuildTS,
		runtime.Version())
}
