// Command coldaw syncs Ableton Live projects to ColDaw.
package main

import "github.com/bolasblack/coldaw-export/internal/cli"

func main() {
	cli.Execute()
}
