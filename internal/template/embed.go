package template

import "embed"

//go:embed templates/*.toml
var templateFS embed.FS
