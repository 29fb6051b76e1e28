package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/whatsapp-storefront/internal/config"
)

// keepOTelGlobals restores the global provider and propagator after t.
func keepOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func tracingConfig(insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "storefront-test",
		SampleRatio: 1.0,
	}
}

func TestSetupTracing_DisabledLeavesGlobals(t *testing.T) {
	keepOTelGlobals(t)
	prev := otel.GetTracerProvider()

	cfg := tracingConfig(true)
	cfg.Enabled = false
	shutdown, err := SetupTracing(context.Background(), cfg, "v0.0.0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatal("disabled tracing replaced the global provider")
	}
}

func TestSetupTracing_InstallsProvider(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name     string
		ctx      context.Context
		insecure bool
	}{
		{"plaintext collector", context.Background(), true},
		{"tls collector", context.Background(), false},
		// exporter connections are lazy, so a dead setup ctx is fine
		{"canceled setup context", canceled, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keepOTelGlobals(t)

			shutdown, err := SetupTracing(tc.ctx, tracingConfig(tc.insecure), "v1.2.3")
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("global provider is %T", otel.GetTracerProvider())
			}

			// A webhook span propagates through W3C trace context headers.
			ctx, span := otel.Tracer("services/conversation").Start(context.Background(), "HandleInbound")
			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			span.End()
			if !strings.HasPrefix(carrier.Get("traceparent"), "00-") {
				t.Fatalf("traceparent not injected: %v", carrier)
			}

			// No collector is listening, so the flush may time out.
			sctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()
			_ = shutdown(sctx)
		})
	}
}

func TestSetupTracing_FailuresLeaveGlobals(t *testing.T) {
	cases := []struct {
		name    string
		install func(t *testing.T)
		wantErr string
	}{
		{
			name: "exporter",
			install: func(t *testing.T) {
				orig := newOTLPExporterFn
				t.Cleanup(func() { newOTLPExporterFn = orig })
				newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
					return nil, errors.New("boom-exporter")
				}
			},
			wantErr: "otlp exporter: boom-exporter",
		},
		{
			name: "resource",
			install: func(t *testing.T) {
				orig := newServiceResourceFn
				t.Cleanup(func() { newServiceResourceFn = orig })
				newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
					return nil, errors.New("boom-resource")
				}
			},
			wantErr: "otel resource: boom-resource",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keepOTelGlobals(t)
			tc.install(t)
			prevTP := otel.GetTracerProvider()
			prevProp := otel.GetTextMapPropagator()

			_, err := SetupTracing(context.Background(), tracingConfig(true), "v0")
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("err = %v; want %q", err, tc.wantErr)
			}
			if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
				t.Fatal("globals changed on failure")
			}
		})
	}
}

func TestSampler_Edges(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range cases {
		desc := Sampler(tc.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, "root:"+tc.want) {
			t.Fatalf("Sampler(%v) = %s; want root %s", tc.ratio, desc, tc.want)
		}
	}
}

func TestServiceResource_Attributes(t *testing.T) {
	res, err := newServiceResourceFn(context.Background(), "storefront-api", "v1.0.0")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != "storefront-api" || got["service.version"] != "v1.0.0" || got["service.namespace"] != serviceNamespace {
		t.Fatalf("unexpected resource attributes: %v", got)
	}
}
