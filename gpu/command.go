package gpu

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/billziss-gh/golib/shlex"
)

// Command is a detection command executed without a shell. When Match is set
// only output lines containing it are counted.
type Command struct {
	Name  string
	Argv  []string
	Match string
}

var (
	NvidiaSMI = mustParseCommand("nvidia-smi", "nvidia-smi --list-gpus", "")
	RocmSMI   = mustParseCommand("rocm-smi", "rocm-smi --showid", "GPU ID")
)

// ParseCommand splits a trusted command line into an argument vector.
func ParseCommand(name, cmdline, match string) (Command, error) {
	args := splitCommandLine(strings.TrimSpace(cmdline))
	if len(args) == 0 {
		return Command{}, fmt.Errorf("command %q: empty command line", name)
	}
	if name == "" {
		name = args[0]
	}
	return Command{
		Name:  name,
		Argv:  args,
		Match: match,
	}, nil
}

func mustParseCommand(name, cmdline, match string) Command {
	cmd, err := ParseCommand(name, cmdline, match)
	if err != nil {
		panic(err)
	}
	return cmd
}

func splitCommandLine(cmdline string) []string {
	if runtime.GOOS == "windows" {
		return shlex.Windows.Split(cmdline)
	}
	return shlex.Posix.Split(cmdline)
}

func (c Command) String() string {
	line := strings.Join(c.Argv, " ")
	if c.Match != "" {
		line = fmt.Sprintf("%s | grep '%s'", line, c.Match)
	}
	return line
}

// countLines returns the number of non-blank lines in output, restricted to
// lines containing match when it is not empty.
func countLines(output string, match string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		count++
	}
	return count
}
