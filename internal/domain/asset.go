package domain

// GeneratedAsset is the outcome of one generation call. Exactly one of SourceURL or Err is set.
type GeneratedAsset struct {
	SourceURL string
	Err       error
}

func (a GeneratedAsset) OK() bool {
	return a.Err == nil && a.SourceURL != ""
}

// CharacterAsset is a character with its resolved image locator.
type CharacterAsset struct {
	Character
	ImageURL string `json:"image_url"`
}

// PageAsset is the persisted form of one generated page.
type PageAsset struct {
	Index      int     `json:"index"`
	Characters []int   `json:"characters"`
	Panels     []Panel `json:"panels"`
	ImageURL   string  `json:"image_url"`
}
