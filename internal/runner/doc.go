// Package runner executes expanded matrix legs.
//
// A Runner fans legs out to a Backend with bounded parallelism. Legs run
// concurrently; the steps inside a leg run strictly in order, install
// phase before script phase, stopping at the first failure. There are no
// retries. An install failure marks the leg errored, a script failure
// marks it failed.
//
// Two backends exist. The shell backend runs steps on the host via
// `sh -c` and suits trusted local use. The docker backend gives every leg
// its own container, created from the image the runtimes mapping resolves
// for the leg, and runs each step as an exec in that container. Containers
// are labeled so that leftovers from interrupted runs can be found and
// removed later.
//
// Output from concurrent legs is interleaved line by line, each line
// prefixed with its leg name.
package runner
