package main

import (
	"os"
)

func main() {
	code := 0
	root := newRootCmd(func(c int) { code = c })
	if err := root.Execute(); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		if code == 0 {
			code = 2
		}
	}
	os.Exit(code)
}
