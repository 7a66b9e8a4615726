// Command mqttpersist inspects and drives MQTT client persistence stores.
package main

import "github.com/nimburion/mqttpersist/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{}))
}
