package cli

import (
	"fmt"
	"io"

	apperrors "github.com/randalmurphal/storyloop/internal/errors"
)

// PrintError prints an error to w. AppErrors use the user-facing format;
// in verbose mode the code and cause follow.
func PrintError(w io.Writer, err error) {
	if appErr := apperrors.AsAppError(err); appErr != nil {
		_, _ = fmt.Fprintln(w, appErr.UserMessage())
		if verbose {
			_, _ = fmt.Fprintf(w, "\nCode: %s\n", appErr.Code)
			if appErr.Cause != nil {
				_, _ = fmt.Fprintf(w, "Cause: %v\n", appErr.Cause)
			}
		}
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}
