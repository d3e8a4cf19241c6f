package domain

// MunicipalitySourceConfig describes one tax-sale notice publisher.
type MunicipalitySourceConfig struct {
	ID               int64
	MunicipalityName string
	BaseURL          string
	DocumentPatterns []string // regexes matched against anchor hrefs on the index page
	Enabled          bool
	ParserID         string
}

// Document is a fetched notice before text extraction.
type Document struct {
	URL         string
	ContentType string
	Body        []byte
}
