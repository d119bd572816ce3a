// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command spanbridge validates tracing documents and runs commands
// inside a traced span.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err == nil {
		return
	}

	var eerr exitCodeError
	if errors.As(err, &eerr) {
		os.Exit(eerr.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
