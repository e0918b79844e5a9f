package pipeline

import (
	"fmt"
	"strings"

	"github.com/iago/manga-studio-back/internal/domain"
)

// BuildPagePrompt describes one page for the image model. characters are the
// resolved characters appearing on the page.
func BuildPagePrompt(title string, page domain.Page, characters []domain.Character) string {
	parts := []string{
		fmt.Sprintf("Create manga page %d of \"%s\".", page.Index+1, title),
		"Keep character consistency with references.",
	}

	if len(characters) > 0 {
		lines := make([]string, 0, len(characters))
		for _, character := range characters {
			lines = append(lines, fmt.Sprintf("- %s: %s", character.Name, character.Description))
		}
		parts = append(parts, "Characters on this page:\n"+strings.Join(lines, "\n"))
	}

	panels := page.SortedPanels()
	lines := make([]string, 0, len(panels))
	for _, panel := range panels {
		lines = append(lines, fmt.Sprintf("Panel %d: %s", panel.Index+1, panel.Description))
	}
	parts = append(parts, "Panels:\n"+strings.Join(lines, "\n"))

	return strings.Join(parts, "\n\n")
}
