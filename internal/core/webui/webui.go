package webui

import (
	"embed"
	"io/fs"
)

//go:embed web/*
var embedded embed.FS

// FS exposes the embedded status dashboard for serving at the site root.
func FS() (fs.FS, error) {
	return fs.Sub(embedded, "web")
}

