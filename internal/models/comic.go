// Package models defines the comic reader's domain types.
package models

// MetaVersion is the current meta.json layout.
const MetaVersion = 1

// Chapter is the catalog entry of a single page.
type Chapter struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Length     int    `json:"length"`
}

// ReadingProgress is where the reader left a comic. Chapter is the 0-based
// index into Comic.Chapters. LastUpdated is in seconds since the Unix epoch.
type ReadingProgress struct {
	Chapter     int     `json:"chapter"`
	Position    float64 `json:"position"`
	LastUpdated float64 `json:"lastUpdated"`
}

// Comic is the content of a book's meta.json.
type Comic struct {
	Version    int             `json:"version"`
	Identifier string          `json:"identifier"`
	Title      string          `json:"title"`
	Format     string          `json:"format"`
	MIMEType   string          `json:"mimetype"`
	Chapters   []Chapter       `json:"chapters"`
	Progress   ReadingProgress `json:"progress"`
}

// ComicSummary is a catalog row.
type ComicSummary struct {
	Identifier string          `json:"identifier"`
	Title      string          `json:"title"`
	Pages      int             `json:"pages"`
	Progress   ReadingProgress `json:"progress"`
}
