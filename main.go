package main

import "github.com/DrSkyle/eidetic/cmd"

func main() {
	cmd.Execute()
}
