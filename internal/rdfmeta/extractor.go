// Package rdfmeta locates the repository description in an RDF document and
// extracts the fields the index keeps about it.
package rdfmeta

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"fdp-index/internal/models"
	"github.com/knakk/rdf"
)

// MetadataVersion is the version of the extraction mapping below
const MetadataVersion = 1

const (
	rdfType          = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	repositoryType   = "http://www.re3data.org/schema/3-0#Repository"
	dcterms          = "http://purl.org/dc/terms/"
	r3d              = "http://www.re3data.org/schema/3-0#"
	foafName         = "http://xmlns.com/foaf/0.1/name"
	publisherField   = "publisher"
	publisherNameKey = "publisherName"
)

var fieldMapping = map[string]string{
	dcterms + "title":          "title",
	dcterms + "description":    "description",
	dcterms + "hasVersion":     "version",
	dcterms + "publisher":      publisherField,
	dcterms + "language":       "language",
	dcterms + "license":        "license",
	dcterms + "issued":         "issued",
	dcterms + "modified":       "modified",
	r3d + "institutionCountry": "country",
}

// Accept lists the serializations the extractor can parse, Turtle preferred
const Accept = "text/turtle, application/n-triples;q=0.9, application/rdf+xml;q=0.8"

type TermKind int

const (
	IRI TermKind = iota
	Blank
	Literal
)

type Term struct {
	Kind  TermKind
	Value string
}

type Triple struct {
	Subject   Term
	Predicate string
	Object    Term
}

// FormatFor picks the parser for a response Content-Type, defaulting to Turtle
func FormatFor(contentType string) rdf.Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return rdf.Turtle
	}
	switch mediaType {
	case "application/n-triples":
		return rdf.NTriples
	case "application/rdf+xml", "application/xml", "text/xml":
		return rdf.RDFXML
	default:
		return rdf.Turtle
	}
}

// Parse decodes every triple of the document
func Parse(r io.Reader, format rdf.Format) ([]Triple, error) {
	dec := rdf.NewTripleDecoder(r, format)

	var triples []Triple
	for {
		t, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return triples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode rdf: %w", err)
		}
		triples = append(triples, Triple{
			Subject:   convertTerm(t.Subj),
			Predicate: t.Pred.String(),
			Object:    convertTerm(t.Obj),
		})
	}
}

func convertTerm(t rdf.Term) Term {
	switch t.Type() {
	case rdf.TermBlank:
		return Term{Kind: Blank, Value: t.String()}
	case rdf.TermLiteral:
		return Term{Kind: Literal, Value: t.String()}
	default:
		return Term{Kind: IRI, Value: t.String()}
	}
}

// Extract returns the repository metadata found in triples, or nil when no
// resource is typed as a repository. Later values of a field overwrite
// earlier ones.
func Extract(triples []Triple) *models.RepositoryMetadata {
	repository, ok := findRepository(triples)
	if !ok {
		return nil
	}

	metadata := &models.RepositoryMetadata{
		MetadataVersion: MetadataVersion,
		RepositoryURI:   repository.Value,
		Metadata:        make(map[string]string),
	}

	var publisher *Term
	for _, t := range triples {
		if t.Subject != repository {
			continue
		}
		field, ok := fieldMapping[t.Predicate]
		if !ok {
			continue
		}
		metadata.Metadata[field] = t.Object.Value
		if field == publisherField && t.Object.Kind != Literal {
			obj := t.Object
			publisher = &obj
		}
	}

	if publisher != nil {
		for _, t := range triples {
			if t.Subject == *publisher && t.Predicate == foafName {
				metadata.Metadata[publisherNameKey] = t.Object.Value
			}
		}
	}
	return metadata
}

func findRepository(triples []Triple) (Term, bool) {
	for _, t := range triples {
		if t.Predicate == rdfType && t.Object.Kind == IRI && t.Object.Value == repositoryType {
			return t.Subject, true
		}
	}
	return Term{}, false
}

// ParseError is returned by ExtractDocument when the body is not valid RDF
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "cannot parse metadata: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// ExtractDocument parses body according to contentType and extracts the
// repository metadata. A nil result with nil error means no repository.
func ExtractDocument(body string, contentType string) (*models.RepositoryMetadata, error) {
	triples, err := Parse(strings.NewReader(body), FormatFor(contentType))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return Extract(triples), nil
}
