package entities

import "io"

// SystemInterface is the process environment handed to a core on instantiation.
// Nil streams are replaced by empty readers and discarding writers.
type SystemInterface struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    map[string]string
	Args   []string
}
