// Package cliopts holds the flag-destination struct the CLI layer
// parses into, kept separate from cli so the session package never
// imports cobra.
package cliopts

// Options is the flag destination struct for the root command,
// mirroring the CLI surface exactly.
type Options struct {
	Autoreset   bool
	ResetPin    string
	ResetCmd    string
	Protocol    string
	Port        string
	Baud        int
	Handshake   int
	SetOptions  []string
	Trim        float64
	Debug       bool
}
