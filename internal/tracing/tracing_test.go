package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestSetup_None(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer shutdown()
	if tp == nil {
		t.Fatal("Setup returned a nil provider")
	}
}

func TestSetup_Unknown(t *testing.T) {
	if _, _, err := Setup(context.Background(), Config{Exporter: "jaeger"}); err == nil {
		t.Error("Setup with an unknown exporter should fail")
	}
}

func TestSetup_Stdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	_, shutdown, err := Setup(context.Background(), Config{
		Exporter:    "stdout",
		ServiceName: "csv2iceberg-test",
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	_, span := Start(context.Background(), "stage.upload", attribute.String("bucket", "b"))
	End(span, errors.New("boom"))
	shutdown()

	out := buf.String()
	if !strings.Contains(out, "stage.upload") {
		t.Errorf("exported spans do not contain the span name:\n%s", out)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("exported spans do not contain the error:\n%s", out)
	}
}
