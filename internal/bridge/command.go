package bridge

import "strings"

// ParseCommandLine splits a launch command into argv. Double quotes group
// words containing spaces; quotes do not nest and backslashes are literal,
// which matches how launch commands are written in the config file. The
// result feeds os/exec directly, never a shell.
func ParseCommandLine(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuotes := false
	quoted := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			quoted = true
		case (c == ' ' || c == '\t') && !inQuotes:
			if quoted || cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
				quoted = false
			}
		default:
			cur.WriteByte(c)
		}
	}

	if inQuotes {
		return nil, ErrUnbalancedQuotes
	}
	if quoted || cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args, nil
}
