package main

import "github.com/ValentinKolb/kqnet/cmd"

func main() {
	cmd.Execute()
}
