package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// printResult writes data as indented JSON or as "key: value" lines.
// fields fixes the text order; JSON uses data's own tags.
func printResult(w io.Writer, opts *RootOptions, data any, fields [][2]string) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "%s: %s\n", f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}
