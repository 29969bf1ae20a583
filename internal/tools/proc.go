package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// commandResult captures a finished subprocess invocation.
type commandResult struct {
	Command    []string
	ReturnCode int
	Stdout     string
	Stderr     string
}

// runCommand executes argv honoring context cancellation. A non-zero exit is
// not an error here; adapters decide how to interpret return codes.
func runCommand(ctx context.Context, argv []string) (*commandResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	result := &commandResult{
		Command: argv,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// splitArgs splits an extra-arguments string respecting single and double
// quotes, so values like --script "http-enum" survive intact.
func splitArgs(s string) []string {
	var out []string
	var cur strings.Builder
	var quote rune

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
