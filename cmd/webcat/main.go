// Command webcat drives web applications from the command line.
package main

import "github.com/grafana/webcat/cmd"

func main() {
	cmd.Execute()
}
