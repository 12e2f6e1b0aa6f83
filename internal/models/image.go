package models

// ImageRef is an image reference discovered inside an article body.
// Placeholder is the token standing in for the image location in the converted Markdown.
type ImageRef struct {
	SourceURL   string `json:"source_url"`
	ArticleID   string `json:"article_id"`
	Placeholder string `json:"placeholder"`
	Alt         string `json:"alt,omitempty"`
}

// LocalImage is a downloaded image stored under the shared images directory.
type LocalImage struct {
	SourceURL   string `json:"source_url"`
	LocalPath   string `json:"local_path"`
	ContentHash string `json:"content_hash"`
}
