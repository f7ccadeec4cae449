package main

import "github.com/tralahm/multifiledownloader/cmd"

func main() {
	cmd.Execute()
}
