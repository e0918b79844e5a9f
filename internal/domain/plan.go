package domain

import "sort"

// Plan is the structured story brief produced once per run.
type Plan struct {
	Title      string      `json:"title"`
	Characters []Character `json:"characters"`
	Pages      []Page      `json:"pages"`
}

type Character struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Page struct {
	Index  int     `json:"index"`
	Panels []Panel `json:"panels"`
}

// Panel.Characters may reference indexes that are not part of Plan.Characters.
type Panel struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Characters  []int  `json:"characters"`
}

// SortedCharacters returns a copy of the characters ordered by index.
func (p Plan) SortedCharacters() []Character {
	out := append([]Character(nil), p.Characters...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SortedPages returns a copy of the pages ordered by index.
func (p Plan) SortedPages() []Page {
	out := append([]Page(nil), p.Pages...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SortedPanels returns a copy of the page panels ordered by index.
func (p Page) SortedPanels() []Panel {
	out := append([]Panel(nil), p.Panels...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// CharacterIndexes collects the distinct character indexes referenced by any panel, ascending.
func (p Page) CharacterIndexes() []int {
	seen := make(map[int]struct{})
	out := make([]int, 0)
	for _, panel := range p.Panels {
		for _, index := range panel.Characters {
			if _, ok := seen[index]; ok {
				continue
			}
			seen[index] = struct{}{}
			out = append(out, index)
		}
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	clone := Plan{Title: p.Title}
	clone.Characters = append([]Character(nil), p.Characters...)
	if p.Pages != nil {
		clone.Pages = make([]Page, len(p.Pages))
		for i, page := range p.Pages {
			clone.Pages[i] = page.clone()
		}
	}
	return clone
}

func (p Page) clone() Page {
	clone := Page{Index: p.Index}
	if p.Panels != nil {
		clone.Panels = make([]Panel, len(p.Panels))
		for i, panel := range p.Panels {
			panel.Characters = append([]int(nil), panel.Characters...)
			clone.Panels[i] = panel
		}
	}
	return clone
}
