package ops

import (
	"fmt"
	"strings"

	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/safety"
)

// diffText 人类可读的变更差异
func diffText(description string, scope model.OperationScope, changes []model.ProposedChange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", description)
	fmt.Fprintf(&b, "# %s\n", safety.Summary(scope))
	if len(changes) == 0 {
		b.WriteString("# no changes\n")
		return b.String()
	}

	for _, c := range changes {
		b.WriteString("\n")
		fmt.Fprintf(&b, "--- %s!%s", c.SheetName, c.CellAddress)
		if c.Header != "" || c.RowLabel != "" {
			fmt.Fprintf(&b, " (%s", c.Header)
			if c.RowLabel != "" {
				fmt.Fprintf(&b, " × %s", c.RowLabel)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "-  %s\n", displayOld(c))
		fmt.Fprintf(&b, "+  %s\n", displayNew(c))
	}
	return b.String()
}

func displayOld(c model.ProposedChange) string {
	if c.OldFormula != "" {
		return c.OldFormula
	}
	return c.OldValue
}

func displayNew(c model.ProposedChange) string {
	if c.NewFormula != "" {
		return c.NewFormula
	}
	return c.NewValue
}
