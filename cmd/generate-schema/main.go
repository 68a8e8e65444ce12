// Command generate-schema writes the JSON schema of the fsstore config file.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/fsstore/pkg/config"
	"github.com/spf13/pflag"
)

func main() {
	output := pflag.StringP("output", "o", "config.schema.json", "schema file to write (- for stdout)")
	pflag.Parse()
	if pflag.NArg() > 0 {
		*output = pflag.Arg(0)
	}

	data, err := generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}

	if *output == "-" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("JSON schema written to %s\n", *output)
}

// generate reflects config.Config using the same field names the YAML
// loader accepts.
func generate() ([]byte, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := r.Reflect(&config.Config{})
	schema.Title = "fsstore Configuration"
	schema.Description = "Configuration schema for the fsstore storage server"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
