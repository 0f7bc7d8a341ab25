package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// jsonEnvelope is the output shape used when --json is set.
type jsonEnvelope struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// printJSON marshals and prints v as a single JSON line.
func printJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// printErrorAndExit reports err respecting --json mode, then exits 1.
func printErrorAndExit(err error) {
	if jsonOutput {
		printJSON(jsonEnvelope{OK: false, Error: err.Error()})
		os.Exit(1)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
