package integrations

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"evsite/internal/model"
)

func TestSelectCountries(t *testing.T) {
	all := []model.Country{
		{ISO3: "KEN", Region: "Sub-Saharan Africa"},
		{ISO3: "EGY", Region: "North Africa"},
		{ISO3: "SOM", Region: "Sub-Saharan Africa", Exclude: true},
		{ISO3: "GHA", Region: "sub-saharan africa"},
	}

	got := SelectCountries(all, "", "Sub-Saharan Africa")
	assert.Equal(t, []model.Country{all[0], all[3]}, got)

	got = SelectCountries(all, "som", "Sub-Saharan Africa")
	assert.Equal(t, []model.Country{all[2]}, got, "explicit selection ignores the exclude flag")

	assert.Len(t, SelectCountries(all, "", ""), 3)
	assert.Empty(t, SelectCountries(all, "XXX", ""))
}
