package util

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

// EnvInt reads an integer environment variable, def when unset or malformed
func EnvInt(name string, def int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return def
	}
	return v
}

// EnvBool reads a boolean environment variable such as INSTACAM_NOWAIT=1
func EnvBool(name string) bool {
	b, _ := strconv.ParseBool(os.Getenv(name))
	return b
}

// PressEnterToExit blocks until a line is read from stdin, unless
// INSTACAM_NOWAIT is set
func PressEnterToExit() {
	if EnvBool("INSTACAM_NOWAIT") {
		return
	}
	fmt.Fprintln(os.Stderr, "\nPress enter to exit.")
	bufio.NewReader(os.Stdin).ReadString('\n')
}

// Exit ends a sample program: err is printed to stderr and gives status 1
func Exit(err error) {
	code := 0
	if err != nil {
		fmt.Fprintln(os.Stderr, "An error occurred:", err)
		code = 1
	}
	PressEnterToExit()
	os.Exit(code)
}
