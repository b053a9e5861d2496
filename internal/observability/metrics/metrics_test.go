package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("customer_email", "a@b.example"),
		attribute.String("decision", "deny"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key != "org_id" && attr.Key != "decision" {
			t.Fatalf("unexpected attribute retained: %s", attr.Key)
		}
	}
}
