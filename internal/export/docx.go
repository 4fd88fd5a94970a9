package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// renderDOCX converts the printable HTML to a Word document with pandoc.
func renderDOCX(ctx context.Context, html string) ([]byte, error) {
	if _, err := exec.LookPath("pandoc"); err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
	}

	cmd := exec.CommandContext(ctx, "pandoc", "-f", "html", "-t", "docx", "--standalone", "-o", "-")
	cmd.Stdin = strings.NewReader(html)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("pandoc execution failed: %w", err)
	}
	return output, nil
}
