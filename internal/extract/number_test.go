package extract_test

import (
	"testing"

	"github.com/DeafMist/city-pulse/internal/extract"
	"github.com/stretchr/testify/require"
)

func TestParseAbbreviated(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{in: "0", want: 0},
		{in: "1200", want: 1200},
		{in: "1.5K", want: 1500},
		{in: "12.3K", want: 12300},
		{in: "2M", want: 2000000},
		{in: "2.3M", want: 2300000},
		{in: "1B", want: 1000000000},
		{in: " 7 ", want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := extract.ParseAbbreviated(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseAbbreviatedRejectsMalformed(t *testing.T) {
	for _, in := range []string{"5X", "", "K", "1,2K", "-3K", "abc", "1.2.3M", "1e3K"} {
		t.Run(in, func(t *testing.T) {
			_, err := extract.ParseAbbreviated(in)
			require.ErrorIs(t, err, extract.ErrInvalidNumber)
		})
	}
}

func TestArticleIDIsDeterministic(t *testing.T) {
	url := "https://megapolitan.kompas.com/read/2024/08/17/banjir"
	require.Equal(t, extract.ArticleID(url), extract.ArticleID(url))
	require.NotEqual(t, extract.ArticleID(url), extract.ArticleID(url+"?page=2"))
	// uuid5(NAMESPACE_DNS, "python.org")
	require.Equal(t, "886313e1-3b8a-5372-9b90-0c9aee199e5d", extract.ArticleID("python.org"))
}
