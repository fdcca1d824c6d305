package main

import (
	"github.com/wintlu/stereo-play/cmd"
)

func main() {
	cmd.Execute()
}
