//go:build integration

package elasticsearch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tces "github.com/testcontainers/testcontainers-go/modules/elasticsearch"

	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/models"
)

func startElasticsearch(t *testing.T) *elasticsearch.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tces.Run(ctx, "docker.elastic.co/elasticsearch/elasticsearch:8.11.0",
		tces.WithPassword("changeme"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	client, err := elasticsearch.New(elasticsearch.Config{
		Addresses: []string{container.Settings.Address},
		Username:  "elastic",
		Password:  container.Settings.Password,
		CACert:    container.Settings.CACert,
		Refresh:   "wait_for",
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return client.Ping(ctx) == nil
	}, time.Minute, time.Second)
	return client
}

func TestBulkUpsertIsIdempotent(t *testing.T) {
	client := startElasticsearch(t)
	ctx := context.Background()
	const index = "news_jakarta"

	_, err := client.EnsureIndex(ctx, index)
	require.NoError(t, err)

	published := time.Date(2024, 8, 12, 0, 30, 0, 0, time.UTC)
	docs := []models.Document{
		{ID: "a", Kind: models.KindArticle, Title: "Banjir rob Pluit", PublishedAt: published, Sentiment: "Negative"},
		{ID: "b", Kind: models.KindArticle, Title: "Pasar murah Kemayoran", PublishedAt: published, Sentiment: "Positive"},
	}

	for i := 0; i < 2; i++ {
		report, err := client.BulkUpsert(ctx, index, docs)
		require.NoError(t, err)
		require.Equal(t, 2, report.Indexed)
		require.Empty(t, report.Failed)
	}

	res, err := client.Search(ctx, index, elasticsearch.SearchParams{})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Total)

	// A later copy of "b" replaces the stored one.
	updated := docs[1]
	updated.Sentiment = "Negative"
	updated.UrgencyLevel = 70
	report, err := client.BulkUpsert(ctx, index, []models.Document{updated})
	require.NoError(t, err)
	require.Equal(t, 1, report.Indexed)

	res, err = client.Search(ctx, index, elasticsearch.SearchParams{})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Total)

	res, err = client.Search(ctx, index, elasticsearch.SearchParams{Sentiment: "Positive"})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.Total)

	res, err = client.Search(ctx, index, elasticsearch.SearchParams{Sentiment: "Negative"})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Total)

	byID := map[string]models.Document{}
	for _, d := range res.Items {
		byID[d.ID] = d
	}
	require.Equal(t, "Negative", byID["b"].Sentiment)
	require.Equal(t, 70, byID["b"].UrgencyLevel)
	require.Equal(t, "Pasar murah Kemayoran", byID["b"].Title)
}
