// Package www holds the embedded templates and public assets.
package www

import (
	"embed"
	"io/fs"
)

//go:embed all:templates
var templates embed.FS

//go:embed public
var public embed.FS

// Templates is rooted at the templates directory.
func Templates() fs.FS {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Public is rooted at the public directory.
func Public() fs.FS {
	sub, err := fs.Sub(public, "public")
	if err != nil {
		panic(err)
	}
	return sub
}
