// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diffengine

import (
	"fmt"
	"strings"
)

// AnnotateForReview renders hunks in the form handed to the LLM: every
// added line carries a "[Line N]" marker with its post-state line number,
// removed lines appear unmarked for context, and equal lines are omitted.
// Explicit markers keep the model from inventing line numbers.
func AnnotateForReview(hunks []Hunk) string {
	var b strings.Builder
	for _, h := range hunks {
		for _, op := range h.Ops {
			switch op.Kind {
			case OpAdd:
				fmt.Fprintf(&b, "[Line %d] + %s\n", op.NewLine, op.Text)
			case OpRemove:
				fmt.Fprintf(&b, "- %s\n", op.Text)
			}
		}
	}
	return b.String()
}
