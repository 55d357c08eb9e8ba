package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Pointers(t *testing.T) {
	res := Filter([]string{
		"static.rust-lang.org/dist/2020-01-01/channel-rust-stable.toml",
		"static.rust-lang.org/dist/2020-01-01/channel-rust-beta.toml",
		"static.rust-lang.org/dist/2020-01-01/channel-rust-nightly.toml",
		"static.rust-lang.org/dist/2020-01-02/channel-rust-nightly.toml",
		"static.rust-lang.org/dist/2020-01-30/channel-rust-stable.toml",
	})

	assert.Equal(t, "static.rust-lang.org/dist/2020-01-30/channel-rust-stable.toml", res.Pointers.Stable)
	assert.Equal(t, "static.rust-lang.org/dist/2020-01-01/channel-rust-beta.toml", res.Pointers.Beta)
	assert.Equal(t, "static.rust-lang.org/dist/2020-01-02/channel-rust-nightly.toml", res.Pointers.Nightly)
	assert.Empty(t, res.Tracked, "pointer and nightly documents are never tracked")
}

func TestFilter_NewestFirst(t *testing.T) {
	res := Filter([]string{
		"dist/2019-12-19/channel-rust-1.40.0.toml",
		"dist/2020-01-30/channel-rust-1.41.0.toml",
		"dist/2020-03-12/channel-rust-1.42.0.toml",
	})

	assert.Equal(t, []string{
		"dist/2020-03-12/channel-rust-1.42.0.toml",
		"dist/2020-01-30/channel-rust-1.41.0.toml",
		"dist/2019-12-19/channel-rust-1.40.0.toml",
	}, res.Tracked)
}

func TestFilter_KeepsNewestDuplicate(t *testing.T) {
	res := Filter([]string{
		"dist/x/channel-rust-1.8.0.toml",
		"dist/2016-04-14/channel-rust-1.8.0-beta.2.toml",
		"dist/y/channel-rust-1.8.0.toml",
		"dist/2016-05-26/channel-rust-1.9.0.toml",
	})

	assert.Contains(t, res.Tracked, "dist/y/channel-rust-1.8.0.toml")
	assert.NotContains(t, res.Tracked, "dist/x/channel-rust-1.8.0.toml")
	assert.Contains(t, res.Tracked, "dist/2016-04-14/channel-rust-1.8.0-beta.2.toml", "betas of a duplicated version are distinct releases")
	assert.Equal(t, []string{"dist/x/channel-rust-1.8.0.toml"}, res.Duplicates)
}

func TestFilter_BetaOfDuplicatedVersionKept(t *testing.T) {
	res := Filter([]string{
		"dist/2020-12-31/channel-rust-1.49.0.toml",
		"dist/2020-11-19/channel-rust-1.49.0-beta.1.toml",
		"dist/2021-01-01/channel-rust-1.49.0.toml",
	})

	assert.Equal(t, []string{
		"dist/2021-01-01/channel-rust-1.49.0.toml",
		"dist/2020-11-19/channel-rust-1.49.0-beta.1.toml",
	}, res.Tracked)
	assert.Equal(t, []string{"dist/2020-12-31/channel-rust-1.49.0.toml"}, res.Duplicates)
}

func TestFilter_UnnumberedBetaExcluded(t *testing.T) {
	res := Filter([]string{
		"dist/2020-01-01/channel-rust-beta.toml",
		"dist/2015-05-01/channel-rust-1.0.0-beta.toml",
		"dist/2020-02-01/channel-rust-1.41.0-beta.3.toml",
	})

	assert.Equal(t, []string{"dist/2020-02-01/channel-rust-1.41.0-beta.3.toml"}, res.Tracked)
}

func TestFilter_UnknownIdentifierKept(t *testing.T) {
	res := Filter([]string{"dist/2020-01-01/something-else.toml"})

	require.Len(t, res.Tracked, 1)
	assert.Equal(t, "dist/2020-01-01/something-else.toml", res.Tracked[0])
}

func TestFilter_Empty(t *testing.T) {
	res := Filter(nil)

	assert.Empty(t, res.Tracked)
	assert.Equal(t, Pointers{}, res.Pointers)
}

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		id      string
		version string
		ok      bool
	}{
		{"dist/2020-01-30/channel-rust-1.41.0.toml", "1.41.0", true},
		{"static.rust-lang.org/dist/2020-02-01/channel-rust-1.41.0-beta.3.toml", "1.41.0-beta.3", true},
		{"dist/2015-05-01/channel-rust-1.0.0-beta.toml", "1.0.0-beta", true},
		{"dist/2015-05-15/channel-rust-1.0.0-alpha.2.toml", "1.0.0-alpha.2", true},
		{"dist/2020-01-30/channel-rust-stable.toml", "", false},
		{"dist/2020-01-30/channel-rust-beta.toml", "", false},
		{"dist/2020-01-30/channel-rust-nightly.toml", "", false},
		{"dist/2020-01-30/something-else.toml", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			version, ok := ExtractVersion(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.version, version)
		})
	}
}
