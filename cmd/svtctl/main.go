package main

import (
	"fmt"
	"os"
)

func main() {
	err := rootCmd.Execute()
	closeSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
