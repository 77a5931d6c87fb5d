package main

import "github.com/andresmejia3/facesampler/cmd"

func main() {
	cmd.Execute()
}
