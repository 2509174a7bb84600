package web

import "embed"

// Templates embeds document templates rendered server-side.
//
//go:embed templates/invoices/*.html
var Templates embed.FS
