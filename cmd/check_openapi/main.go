package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
	Enum       []string          `yaml:"enum"`
}

type schemaShape struct {
	Type       string
	Required   []string
	Properties map[string]propertyShape
}

type propertyShape struct {
	Type     string
	Ref      string
	ItemsRef string
}

// streamEvents are the SSE event names the reader emits on a chat stream.
var streamEvents = []string{"chunk", "usage", "error", "done"}

var quotaKinds = []string{"storage", "files", "file_size", "tokens", "questions"}

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <reader-openapi.yaml> <outline-internal-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	if err := check(os.Args[1], os.Args[2]); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(readerPath, internalPath string) error {
	readerDoc, err := loadDoc(readerPath)
	if err != nil {
		return err
	}
	internalDoc, err := loadDoc(internalPath)
	if err != nil {
		return err
	}

	readerErr, err := getSchema(readerDoc, "ErrorResponse")
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	internalErr, err := getSchema(internalDoc, "ErrorResponse")
	if err != nil {
		return fmt.Errorf("internal: %w", err)
	}
	if err := validateErrorResponse("reader", readerErr); err != nil {
		return err
	}
	if err := validateErrorResponse("internal", internalErr); err != nil {
		return err
	}
	if err := ensureSameShape("ErrorResponse", shapeFromSchema(readerErr), shapeFromSchema(internalErr)); err != nil {
		return err
	}

	quotaErr, err := getSchema(readerDoc, "QuotaErrorResponse")
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	if err := validateQuotaResponse(readerErr, quotaErr); err != nil {
		return err
	}
	quota, err := getSchema(readerDoc, "QuotaExceeded")
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	if err := validateQuotaExceeded(quota); err != nil {
		return err
	}

	stream, err := getSchema(readerDoc, "StreamEvent")
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	return validateStreamEvent(stream)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(scope string, s schema) error {
	if s.Type != "object" {
		return fmt.Errorf("%s ErrorResponse must be object", scope)
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("%s ErrorResponse.required must include %q", scope, field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("%s ErrorResponse.%s must be string", scope, field)
		}
	}
	return nil
}

// validateQuotaResponse requires the 402 body to extend ErrorResponse with
// a quota object.
func validateQuotaResponse(base, s schema) error {
	for name, prop := range base.Properties {
		got, ok := s.Properties[name]
		if !ok || got.Type != prop.Type {
			return fmt.Errorf("QuotaErrorResponse.%s must match ErrorResponse", name)
		}
	}
	code := s.Properties["code"]
	if len(code.Enum) != 1 || code.Enum[0] != "QUOTA_EXCEEDED" {
		return errors.New("QuotaErrorResponse.code must be the single value QUOTA_EXCEEDED")
	}
	quota, ok := s.Properties["quota"]
	if !ok || strings.TrimSpace(quota.Ref) != "#/components/schemas/QuotaExceeded" {
		return errors.New("QuotaErrorResponse.quota must reference QuotaExceeded")
	}
	if !makeSet(s.Required)["quota"] {
		return errors.New("QuotaErrorResponse.required must include \"quota\"")
	}
	return nil
}

func validateQuotaExceeded(s schema) error {
	if s.Type != "object" {
		return errors.New("QuotaExceeded must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"kind", "limit", "used", "resetsAt"} {
		if !required[field] {
			return fmt.Errorf("QuotaExceeded.required must include %q", field)
		}
	}
	for _, field := range []string{"limit", "used"} {
		if s.Properties[field].Type != "integer" {
			return fmt.Errorf("QuotaExceeded.%s must be integer", field)
		}
	}
	return ensureEnum("QuotaExceeded.kind", s.Properties["kind"].Enum, quotaKinds)
}

func validateStreamEvent(s schema) error {
	if s.Type != "object" {
		return errors.New("StreamEvent must be object")
	}
	event, ok := s.Properties["event"]
	if !ok || event.Type != "string" {
		return errors.New("StreamEvent.event must be string")
	}
	if err := ensureEnum("StreamEvent.event", event.Enum, streamEvents); err != nil {
		return err
	}
	data, ok := s.Properties["data"]
	if !ok || data.Type != "object" {
		return errors.New("StreamEvent.data must be object")
	}
	fields := map[string]string{
		"text":             "string",
		"promptTokens":     "integer",
		"completionTokens": "integer",
		"totalTokens":      "integer",
		"class":            "string",
		"message":          "string",
		"messageId":        "string",
	}
	for name, typ := range fields {
		if data.Properties[name].Type != typ {
			return fmt.Errorf("StreamEvent.data.%s must be %s", name, typ)
		}
	}
	return nil
}

func ensureEnum(name string, got, want []string) error {
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	if strings.Join(g, ",") != strings.Join(w, ",") {
		return fmt.Errorf("%s enum = %v, want %v", name, got, want)
	}
	return nil
}

func shapeFromSchema(s schema) schemaShape {
	out := schemaShape{
		Type:       s.Type,
		Required:   append([]string(nil), s.Required...),
		Properties: make(map[string]propertyShape, len(s.Properties)),
	}
	sort.Strings(out.Required)
	for name, prop := range s.Properties {
		shape := propertyShape{Type: prop.Type, Ref: strings.TrimSpace(prop.Ref)}
		if prop.Items != nil {
			shape.ItemsRef = strings.TrimSpace(prop.Items.Ref)
		}
		out.Properties[name] = shape
	}
	return out
}

func ensureSameShape(name string, left, right schemaShape) error {
	if left.Type != right.Type {
		return fmt.Errorf("%s type mismatch: %q vs %q", name, left.Type, right.Type)
	}
	if strings.Join(left.Required, ",") != strings.Join(right.Required, ",") {
		return fmt.Errorf("%s required mismatch: %v vs %v", name, left.Required, right.Required)
	}
	if len(left.Properties) != len(right.Properties) {
		return fmt.Errorf("%s property count mismatch: %d vs %d", name, len(left.Properties), len(right.Properties))
	}
	for key, leftProp := range left.Properties {
		rightProp, ok := right.Properties[key]
		if !ok {
			return fmt.Errorf("%s missing property %q in internal schema", name, key)
		}
		if leftProp != rightProp {
			return fmt.Errorf("%s property %q mismatch: %+v vs %+v", name, key, leftProp, rightProp)
		}
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
