// Package main is the entry point for the Rostrum load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: Connection saturation test
//   - watch:    Observer fan-out test with ordering verification
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test — opens N connections, optionally")
	fmt.Println("              all watching one debate stream")
	fmt.Println("  watch       Observer fan-out test — N observers watch one debate stream and")
	fmt.Println("              verify that gated events arrive gap-free and in sequence order")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
