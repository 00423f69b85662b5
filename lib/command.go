package mongoback

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// BuildCommand builds an exec.Cmd from a command slice plus trailing
// arguments. Stdout defaults to stderr because we don't want external
// tools to write on our own output.
func BuildCommand(command []string, additionalArgs ...string) *exec.Cmd {
	fullArgs := append(append([]string{}, command...), additionalArgs...)
	cmd := exec.Command(fullArgs[0], fullArgs[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd
}

func RunCommand(log *logrus.Entry, cmd *exec.Cmd) error {
	log.Printf("running: %s", cmd.String())
	return cmd.Run()
}

// RunCommandOutput runs cmd capturing stdout and stderr in a single
// string, which is also dumped to the log line by line at debug level.
func RunCommandOutput(log *logrus.Entry, cmd *exec.Cmd) (string, error) {
	log.Printf("running: %s", cmd.String())
	var b bytes.Buffer
	cmd.Stdout = &b
	cmd.Stderr = &b
	err := cmd.Run()
	out := b.String()
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		log.Debug(line)
	}
	return out, err
}

// ParseCommand parses a user-supplied command override following shell
// syntax, eg "sudo rsync". An empty or unparseable override keeps the
// defaults.
func ParseCommand(s string, defaults []string) []string {
	if s == "" {
		return defaults
	}
	res, err := shlex.Split(s)
	if err != nil {
		logrus.Warnf("cannot parse command %q: %v", s, err)
		return defaults
	}
	return res
}
