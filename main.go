package main

import "github.com/ec2crypt/ec2crypt/cmd"

func main() {
	cmd.Execute()
}
