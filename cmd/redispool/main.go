package main

import "github.com/joomcode/redispool/cmd"

func main() {
	cmd.Execute()
}
