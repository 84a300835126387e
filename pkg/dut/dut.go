// Package dut exposes device-under-test attributes from the config.
package dut

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/labrat-lab/labrat/pkg/config"
)

// VarPrefix prefixes every emitted shell variable.
const VarPrefix = "DUT_"

// ErrIndexOutOfRange is returned when asking for a machine that does not
// exist.
var ErrIndexOutOfRange = errors.New("machine index out of range")

// Count returns the number of configured machines.
func Count(machines []config.Machine) int {
	return len(machines)
}

// ShellVars renders the attributes of machines[index] as DUT_<key>=<value>
// lines, in config order, with values quoted for POSIX shells.
func ShellVars(machines []config.Machine, index int) (string, error) {
	if index < 0 || index >= len(machines) {
		return "", fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(machines))
	}

	var sb strings.Builder

	for _, attr := range machines[index] {
		sb.WriteString(VarPrefix)
		sb.WriteString(attr.Key)
		sb.WriteByte('=')
		sb.WriteString(Quote(attr.Value))
		sb.WriteByte('\n')
	}

	return sb.String(), nil
}

var unsafeChars = regexp.MustCompile(`[^\w@%+=:,./-]`)

// Quote returns s quoted for use as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if !unsafeChars.MatchString(s) {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
