// Package nsp mirrors the Node Security Platform public advisory feed.
//
// The feed is a paginated JSON API: each response carries a slice of
// advisories along with the offset of the first one, the number in the page,
// and the total the server knows about. [Fetcher] walks the pages in order and
// [ToVulnerability] maps each advisory onto the canonical record.
package nsp

import (
	"encoding/json"
	"fmt"
	"io"
)

// DefaultURL is the root of the public advisory API.
const DefaultURL = `https://api.nodesecurity.io/advisories`

// Page is one response from the advisory API.
type Page struct {
	Advisories []Advisory `json:"results"`
	Offset     int        `json:"offset"`
	Count      int        `json:"count"`
	Total      int        `json:"total"`
}

// Advisory is a single advisory, as served.
//
// Dates are ISO 8601 strings with an offset and may be empty.
type Advisory struct {
	ID                 int      `json:"id"`
	Title              string   `json:"title"`
	ModuleName         string   `json:"module_name"`
	Overview           string   `json:"overview"`
	CreatedAt          string   `json:"created_at"`
	PublishDate        string   `json:"publish_date"`
	UpdatedAt          string   `json:"updated_at"`
	CVSSVector         string   `json:"cvss_vector"`
	Author             string   `json:"author"`
	Recommendation     string   `json:"recommendation"`
	References         string   `json:"references"`
	VulnerableVersions string   `json:"vulnerable_versions"`
	PatchedVersions    string   `json:"patched_versions"`
	CVEs               []string `json:"cves"`
}

// ParsePage decodes one page from the provided reader.
func ParsePage(r io.Reader) (*Page, error) {
	var p Page
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("nsp: unable to decode page: %w", err)
	}
	switch {
	case p.Offset < 0, p.Count < 0, p.Total < 0:
		return nil, fmt.Errorf("nsp: nonsensical page: offset=%d count=%d total=%d", p.Offset, p.Count, p.Total)
	}
	return &p, nil
}
