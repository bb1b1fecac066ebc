package main

import "perf-trend-alerts/internal/cli"

func main() {
	cli.Execute()
}
