package main

import "github.com/hyanglab/noticebot/cmd"

func main() {
	cmd.Execute()
}
