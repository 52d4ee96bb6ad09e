package main

import "github.com/kebairia/tenantbackup/cmd"

func main() {
	cmd.Execute()
}
