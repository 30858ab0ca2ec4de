package ingress

import (
	"bytes"
	"embed"
	"errors"
	"fmt"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemasFS embed.FS

const schemaBaseURL = "https://restock.local/schemas/"

var schemaFiles = map[string]string{
	domain.TopicProductsUpdate:        "products_update.json",
	domain.TopicOrdersCreate:          "orders_create.json",
	domain.TopicInventoryLevelsUpdate: "inventory_levels_update.json",
}

// Schemas validates webhook bodies against the embedded schema for their topic.
type Schemas struct {
	byTopic map[string]*jsonschema.Schema
}

func CompileSchemas() (*Schemas, error) {
	c := jsonschema.NewCompiler()
	for _, file := range schemaFiles {
		data, err := schemasFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", file, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", file, err)
		}
		if err := c.AddResource(schemaBaseURL+file, doc); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", file, err)
		}
	}

	s := &Schemas{byTopic: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for topic, file := range schemaFiles {
		sch, err := c.Compile(schemaBaseURL + file)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", file, err)
		}
		s.byTopic[topic] = sch
	}
	return s, nil
}

// Validate returns a *domain.ValidationError for malformed JSON or a body that
// does not match the topic's schema. Topics without a schema pass.
func (s *Schemas) Validate(topic string, body []byte) error {
	sch, ok := s.byTopic[topic]
	if !ok {
		return nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return domain.NewValidationError(domain.FieldError{Field: "body", Msg: "malformed JSON"})
	}

	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return domain.NewValidationError(domain.FieldError{Field: "body", Msg: ve.Error()})
		}
		return domain.NewValidationError(domain.FieldError{Field: "body", Msg: err.Error()})
	}
	return nil
}
