//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/skillrun/pkg/schema"
)

func main() {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/skill-v0.json", data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/skill-v0.json")
}
