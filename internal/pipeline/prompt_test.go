package pipeline

import (
	"testing"

	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuildPagePrompt(t *testing.T) {
	page := domain.Page{
		Index: 1,
		Panels: []domain.Panel{
			{Index: 1, Description: "Rin lands"},
			{Index: 0, Description: "Rin jumps"},
		},
	}
	characters := []domain.Character{{Index: 0, Name: "Rin", Description: "black cat"}}

	want := "Create manga page 2 of \"Moon Cats\".\n\n" +
		"Keep character consistency with references.\n\n" +
		"Characters on this page:\n- Rin: black cat\n\n" +
		"Panels:\nPanel 1: Rin jumps\nPanel 2: Rin lands"
	assert.Equal(t, want, BuildPagePrompt("Moon Cats", page, characters))
}

func TestBuildPagePromptWithoutCharacters(t *testing.T) {
	page := domain.Page{Index: 0, Panels: []domain.Panel{{Index: 0, Description: "empty sky"}}}

	got := BuildPagePrompt("Sky", page, nil)
	assert.Equal(t, "Create manga page 1 of \"Sky\".\n\n"+
		"Keep character consistency with references.\n\n"+
		"Panels:\nPanel 1: empty sky", got)
}
