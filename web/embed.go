// Package web holds the default page served when no --dir is given.
package web

import (
	"embed"
	"io/fs"
)

//go:embed site
var files embed.FS

// Site is the page rooted at its index.html.
var Site fs.FS

func init() {
	sub, err := fs.Sub(files, "site")
	if err != nil {
		panic(err)
	}
	Site = sub
}
