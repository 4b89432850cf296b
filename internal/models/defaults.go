package models

// Downloadable lists the models offered for setup.
var Downloadable = []string{
	"nomic-embed-text:latest",
	"granite-code:3b",
	"granite-code:8b",
	"granite-code:20b",
	"granite-code:34b",
}

var bundled = map[string]Info{
	"nomic-embed-text:latest": {ID: "nomic-embed-text:latest", Size: "274MB"},
	"granite-code:3b":         {ID: "granite-code:3b", Size: "2.0GB"},
	"granite-code:8b":         {ID: "granite-code:8b", Size: "4.6GB"},
	"granite-code:20b":        {ID: "granite-code:20b", Size: "12GB"},
	"granite-code:34b":        {ID: "granite-code:34b", Size: "19GB"},
}

// BundledInfo returns the static metadata shipped with the binary for id.
// Bundled entries never carry a digest.
func BundledInfo(id string) (Info, bool) {
	info, ok := bundled[Canonical(id)]
	return info, ok
}
