package index

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcharvest/internal/models"
)

func TestAggregator_FlushOrdersBySequence(t *testing.T) {
	a := NewAggregator()

	section := "Login"

	var wg sync.WaitGroup
	for _, seq := range []int{3, 1, 2, 0} {
		wg.Add(1)

		go func(seq int) {
			defer wg.Done()

			rec := models.MetadataRecord{ArticleID: string(rune('a' + seq)), Title: "T"}
			if seq == 1 {
				rec.SectionName = &section
			}

			a.Record(seq, rec)
		}(seq)
	}

	wg.Wait()

	path := filepath.Join(t.TempDir(), "out", FileName)
	require.NoError(t, a.Flush(path))

	records, err := Load(path)
	require.NoError(t, err)

	var ids []string
	for _, r := range records {
		ids = append(ids, r.ArticleID)
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	require.NotNil(t, records[1].SectionName)
	assert.Equal(t, "Login", *records[1].SectionName)
	assert.Nil(t, records[0].SectionName)
}

func TestAggregator_JSONShape(t *testing.T) {
	a := NewAggregator()
	a.Record(0, models.MetadataRecord{
		ArticleID:         "7",
		Title:             "Refunds",
		CollectionName:    "Billing",
		LocalMarkdownPath: "articles/Billing/Refunds.md",
		SourceURL:         "https://help.test/articles/7",
		ImageCount:        2,
	})

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, a.Flush(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	expected := `[
  {
    "article_id": "7",
    "title": "Refunds",
    "collection_name": "Billing",
    "section_name": null,
    "local_markdown_path": "articles/Billing/Refunds.md",
    "source_url": "https://help.test/articles/7",
    "image_count": 2
  }
]
`
	assert.Equal(t, expected, string(data))
}

func TestAggregator_EmptyFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, NewAggregator().Flush(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}
