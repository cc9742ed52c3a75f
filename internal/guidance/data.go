// Package guidance produces e-waste disposal advice for a classified item and
// a user's city.
package guidance

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

//go:embed disposal.json
var disposalJSON []byte

// Location is an authorised e-waste collection point.
type Location struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	City    string `json:"city"`
	Address string `json:"address"`
	Contact string `json:"contact"`
}

// Catalog holds disposal methods per category and collection points in
// file order.
type Catalog struct {
	methods   map[string]string
	locations []Location
}

type catalogFile struct {
	DisposalTypes     map[string]string `json:"disposal_types"`
	DisposalLocations []Location        `json:"disposal_locations"`
}

// LoadCatalog parses the embedded disposal data.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(disposalJSON)
}

// ParseCatalog parses disposal data in the embedded JSON layout.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse disposal data: %w", err)
	}

	c := &Catalog{
		methods:   make(map[string]string, len(file.DisposalTypes)),
		locations: file.DisposalLocations,
	}
	for name, method := range file.DisposalTypes {
		c.methods[strings.ToLower(name)] = method
	}
	return c, nil
}

// DisposalMethod returns the disposal method for a category, ignoring case.
func (c *Catalog) DisposalMethod(category string) (string, bool) {
	m, ok := c.methods[strings.ToLower(category)]
	return m, ok
}

// InCity returns the collection points whose city equals city, ignoring case
// and surrounding space.
func (c *Catalog) InCity(city string) []Location {
	city = strings.TrimSpace(city)
	var out []Location
	for _, loc := range c.locations {
		if strings.EqualFold(loc.City, city) {
			out = append(out, loc)
		}
	}
	return out
}

// Cities returns every distinct city, sorted.
func (c *Catalog) Cities() []string {
	seen := make(map[string]struct{})
	var cities []string
	for _, loc := range c.locations {
		if _, ok := seen[loc.City]; ok {
			continue
		}
		seen[loc.City] = struct{}{}
		cities = append(cities, loc.City)
	}
	sort.Strings(cities)
	return cities
}

// AddressesAndContact renders the collection points of a city as
// "address, contact, address, contact".
func (c *Catalog) AddressesAndContact(city string) string {
	locs := c.InCity(city)
	parts := make([]string, len(locs))
	for i, loc := range locs {
		parts[i] = loc.Address + ", " + loc.Contact
	}
	return strings.Join(parts, ", ")
}
