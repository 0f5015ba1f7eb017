package version

// Version is the application version, overridden via -ldflags at build time
var Version = "0.1.0-dev"

// Commit is the git revision the binary was built from
var Commit = "unknown"
