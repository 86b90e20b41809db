// Command interpose demonstrates and monitors method interception.
package main

import "github.com/sarchlab/interpose/interpose/cmd"

func main() {
	cmd.Execute()
}
