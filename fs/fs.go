package appfs

import "embed"

// FS holds the files shipped inside the binary.
//go:embed migrations
var FS embed.FS
