// Package web embeds the dashboard page served by the stats dashboard server.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed dist/*
var distFS embed.FS

// Handler serves the embedded dashboard assets. The dashboard is a single
// page, so "/" serves index.html and unknown paths are a plain 404.
func Handler() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("embedded dashboard assets missing: " + err.Error())
	}
	return http.FileServer(http.FS(sub))
}
