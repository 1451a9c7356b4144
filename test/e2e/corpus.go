// Package e2e provides end-to-end tests that drive the HTTP API over a generated fleet of
// entities and images.
package e2e

import (
	"fmt"

	"github.com/hyperjump/kagami/internal/models"
)

// FleetImage is one reference image of an entity in the corpus.
type FleetImage struct {
	// Key is the storage key, "<entity id>/<n><ext>".
	Key      string
	EntityID string
	Ext      string
	// Seed drives the generated pixels so every image is distinct.
	Seed int
}

// Corpus holds entities and the images ingested for them.
type Corpus struct {
	Entities []*models.Entity
	Images   []FleetImage
}

var fleetTypes = []struct {
	kind    string
	country string
}{
	{"tank", "Germany"},
	{"fighter", "France"},
	{"frigate", "Italy"},
	{"helicopter", "United States"},
	{"artillery", "Korea"},
}

// BuildCorpus returns n entities with perEntity images each. Image formats rotate through
// ImageExtensions.
func BuildCorpus(n, perEntity int) *Corpus {
	c := &Corpus{}
	seed := 1
	for i := 0; i < n; i++ {
		ft := fleetTypes[i%len(fleetTypes)]
		id := fmt.Sprintf("%s-%03d", ft.kind, i)
		c.Entities = append(c.Entities, &models.Entity{
			ID:        id,
			Name:      fmt.Sprintf("%s %d", ft.kind, i),
			Type:      ft.kind,
			Country:   ft.country,
			InService: i%3 != 0,
			Year:      1960 + i,
		})
		for j := 0; j < perEntity; j++ {
			ext := ImageExtensions[(i+j)%len(ImageExtensions)]
			c.Images = append(c.Images, FleetImage{
				Key:      fmt.Sprintf("%s/%d%s", id, j, ext),
				EntityID: id,
				Ext:      ext,
				Seed:     seed,
			})
			seed++
		}
	}
	return c
}
