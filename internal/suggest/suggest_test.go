package suggest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/seantiz/compatscan/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type generatorFunc func(context.Context, Request) (Response, error)

func (f generatorFunc) Suggest(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

func TestSafeSwallowsFailures(t *testing.T) {
	failing := generatorFunc(func(context.Context, Request) (Response, error) {
		return Response{}, errors.New("upstream unavailable")
	})
	panicking := generatorFunc(func(context.Context, Request) (Response, error) {
		panic("boom")
	})

	for name, g := range map[string]Generator{"error": failing, "panic": panicking, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			if got := Safe(context.Background(), g, Request{}, discardLogger()); got != nil {
				t.Errorf("Safe() = %v, want nil", got)
			}
		})
	}
}

func TestRulesSuggest(t *testing.T) {
	req := Request{
		Baseline: map[string]model.BaselineEntry{
			"css.has": {Status: model.BaselineSupported, Browsers: map[string]string{"chrome": "supported"}},
			"css.nesting": {Status: model.BaselinePartial, Browsers: map[string]string{
				"chrome": model.BaselineSupported, "safari": model.BaselinePartial,
			}},
			"css.scrollbar-gutter": {Status: model.BaselineUnsupported, Browsers: map[string]string{
				"chrome": model.BaselineSupported, "safari": model.BaselineUnsupported,
			}},
		},
		Security: &model.SecuritySnapshot{Findings: []model.SecurityFinding{
			{Feature: "js.eval", Files: []string{"src/a.js", "src/b.js"}},
		}},
	}

	items := Safe(context.Background(), Rules{}, req, discardLogger())
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3: %+v", len(items), items)
	}
	if items[0].Feature != "css.nesting" || !strings.Contains(items[0].Detail, "safari") {
		t.Errorf("items[0] = %+v, want partial hint naming safari", items[0])
	}
	if items[1].Feature != "css.scrollbar-gutter" || !strings.HasPrefix(items[1].Title, "Provide a fallback") {
		t.Errorf("items[1] = %+v, want fallback hint", items[1])
	}
	if items[2].Feature != "js.eval" || !strings.Contains(items[2].Detail, "2 file(s)") {
		t.Errorf("items[2] = %+v, want security review hint", items[2])
	}
}

func TestRulesHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Rules{}).Suggest(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Suggest() error = %v, want context.Canceled", err)
	}
}
