package nzbparse

// newznabCategoryNames maps Newznab category IDs to human-readable labels,
// used to resolve a download's category when the NZB carries a Newznab
// <meta type="category"> numeric ID instead of the caller's own category
// name. Kept verbatim from the teacher's nzb.GetCategoryName table.
var newznabCategoryNames = map[string]string{
	"1000": "Console",
	"2000": "Movies",
	"2030": "Movies > SD",
	"2040": "Movies > HD",
	"2045": "Movies > UHD",
	"3000": "Audio",
	"4000": "PC",
	"5000": "TV",
	"5030": "TV > SD",
	"5040": "TV > HD",
	"5045": "TV > UHD",
	"6000": "XXX",
	"7000": "Other",
}

// NewznabCategoryName resolves a Newznab category ID to its label, or
// "Other" if the ID is unrecognized.
func NewznabCategoryName(id string) string {
	if name, ok := newznabCategoryNames[id]; ok {
		return name
	}
	return "Other"
}

// ResolveCategory returns the category name add_nzb_content should store:
// an explicit caller-supplied override wins, then the NZB's own category
// meta, falling back to "" (uncategorized) when neither is present.
func ResolveCategory(override, nzbMetaCategory string) string {
	if override != "" {
		return override
	}
	if nzbMetaCategory != "" {
		if _, isID := newznabCategoryNames[nzbMetaCategory]; isID {
			return NewznabCategoryName(nzbMetaCategory)
		}
		return nzbMetaCategory
	}
	return ""
}
