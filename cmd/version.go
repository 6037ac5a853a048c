package cmd

// Version is the application version string. Overridden at build time via
// -ldflags "-X github.com/xkilldash9x/voyager-cli/cmd.Version=...".
var Version = "0.1.0"
