package main

// version is set at build time with -ldflags.
var version = "dev"

func main() {
	SetVersion(version)
	Execute()
}
