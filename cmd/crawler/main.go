// Package main is the entry point for the crawler executable.
package main

import "github.com/tisorlawan/indonesian-media-crawler/cmd"

func main() {
	cmd.Execute()
}
