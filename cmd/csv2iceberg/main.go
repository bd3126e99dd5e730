package main

import "github.com/BrobridgeOrg/csv2iceberg/internal/cli"

func main() {
	cli.Execute()
}
