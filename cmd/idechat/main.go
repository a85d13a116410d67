package main

import (
	"os"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/idechat"
)

// main simply calls the idechat package's Cli() function
func main() {
	config := idechat.NewConfig()
	rc, err := idechat.Cli(os.Args[1:], config)
	Ck(err)
	os.Exit(rc)
}
