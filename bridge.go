// Package merchantbridge embeds the static dashboard assets served by the
// bridge server.
package merchantbridge

import "embed"

//go:embed public
var PublicFS embed.FS
