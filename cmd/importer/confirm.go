package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// confirmClear asks on out and reads the answer from in. Only "yes" approves.
func confirmClear(in io.Reader, out io.Writer, table string) func(int64) bool {
	return func(existing int64) bool {
		fmt.Fprintf(out, "This will delete %d rows from %s. Type \"yes\" to continue: ", existing, table)
		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && answer == "" {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(answer), "yes")
	}
}
