package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"SMA Negeri 1 Bandung":   "sma-negeri-1-bandung",
		"  MTs  Al-Ikhlas  ":     "mts-al-ikhlas",
		"St. Mary's (Junior)":    "st-mary-s-junior",
		"Sekolah Ümmet":          "sekolah-mmet",
		"!!!":                    "unnamed",
		"":                       "unnamed",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "sma negeri 1", NormalizeName("  SMA   Negeri\t1 "))
	assert.Equal(t, NormalizeName("sma negeri 1"), NormalizeName("SMA NEGERI 1"))
}
