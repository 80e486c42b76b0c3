package main

var (
	version = "dev" // version is set at build time with -ldflags "-X main.version=..."
)
