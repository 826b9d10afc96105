package main

import "github.com/andresmejia3/emotionai/cmd"

func main() {
	cmd.Execute()
}
