package buildinfo

// Populated at build time via -ldflags "-X ...".
var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
