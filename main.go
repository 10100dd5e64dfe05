// Anvil - contribution merging for Go dependency injection.
//
// Anvil collects the declarations contributed to a scope through
// //anvil: directives and merges them into the components, subcomponents
// and module lists that declare the scope.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Benny93/anvil-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		if !errors.Is(err, cmd.ErrReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
