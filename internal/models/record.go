package models

// MetadataRecord is one entry of the metadata index. Field order matches the index document.
type MetadataRecord struct {
	ArticleID         string  `json:"article_id"`
	Title             string  `json:"title"`
	CollectionName    string  `json:"collection_name"`
	SectionName       *string `json:"section_name"`
	LocalMarkdownPath string  `json:"local_markdown_path"`
	SourceURL         string  `json:"source_url"`
	ImageCount        int     `json:"image_count"`
}
