package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeResult prints v as indented JSON, or calls text for the text format.
func writeResult(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "text":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
