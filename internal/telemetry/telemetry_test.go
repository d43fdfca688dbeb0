package telemetry

import (
	"context"
	"testing"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	for _, cfg := range []Config{{}, {Enabled: true}, {Endpoint: "localhost:4317"}} {
		shutdown, err := Init(context.Background(), cfg)
		if err != nil {
			t.Fatalf("%+v: unexpected error: %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("%+v: shutdown error: %v", cfg, err)
		}
	}
}
