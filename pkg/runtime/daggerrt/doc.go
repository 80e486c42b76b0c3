// Package daggerrt runs workspaces on Dagger.
//
// Apart from opening the connection, nothing else touches the Dagger SDK.
// Services are declared from container images and started eagerly so they
// stay up for the whole client session; containers are Dagger's immutable
// values, so every With-style call derives a new handle and nothing is
// shared between calls.
package daggerrt
