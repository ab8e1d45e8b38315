// tensorbridge streams multi-tensor frames between pipelines over gRPC.
package main

import "github.com/strand-protocol/tensorbridge/internal/cli"

func main() {
	cli.Execute()
}
