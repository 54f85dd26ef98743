package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"mastermind/internal/types"
)

// Result is the JSON document every verb prints.
type Result struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	Data         any    `json:"data,omitempty"`
	ErrorDetails any    `json:"error_details,omitempty"`
}

// errReported marks failures whose JSON document is already on stdout,
// so main does not print them a second time.
var errReported = errors.New("failure already reported")

func printResult(r Result) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
	}
}

// emitOK prints a success document and returns nil.
func emitOK(message string, data any) error {
	printResult(Result{Status: "success", Message: message, Data: data})
	return nil
}

// emitFail prints a failure document and returns a classified error so
// the exit code reflects the failure kind.
func emitFail(kind types.ErrorKind, message string, details any) error {
	if details == nil {
		details = map[string]any{"type": string(kind)}
	}
	printResult(Result{Status: "failure", Message: message, ErrorDetails: details})
	return types.NewKindError(kind, "cli", message, errReported)
}

// emitErr classifies err and prints it as a failure document.
func emitErr(message string, err error) error {
	kind := types.KindOf(err)
	return emitFail(kind, message, map[string]any{
		"type":    string(kind),
		"details": err.Error(),
	})
}
