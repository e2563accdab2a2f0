// Command site-evaluator evaluates web pages and sites.
//
//	site-evaluator page https://example.com
//	site-evaluator site --max-depth 2 --max-subpages 25 https://example.com
//	site-evaluator project --name portfolio https://a.example https://b.example
//	site-evaluator serve --config config.yaml
//	site-evaluator cache purge [--url https://example.com/]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JakeFAU/site-evaluator/cmd"
)

func main() {
	if err := cmd.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
