package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/parley/pkg/models"
)

var weatherID = models.ToolID{ServiceName: "weather", ToolName: "forecast"}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(models.Tool{ID: weatherID, Description: "Looks up the forecast."}, func(ctx context.Context, args map[string]any) (models.ToolResult, error) {
		return models.ToolResult{}, nil
	})

	tool, ok := r.Resolve(weatherID)
	if !ok {
		t.Fatal("registered tool not resolvable")
	}
	if tool.Description != "Looks up the forecast." {
		t.Errorf("description = %q", tool.Description)
	}

	if _, ok := r.Resolve(models.ToolID{ServiceName: "weather", ToolName: "radar"}); ok {
		t.Error("unregistered tool resolved")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	r.Register(models.Tool{ID: weatherID, Description: "old"}, nil)
	r.Register(models.Tool{ID: weatherID, Description: "new"}, nil)

	tool, _ := r.Resolve(weatherID)
	if tool.Description != "new" {
		t.Errorf("description = %q, want the replacement", tool.Description)
	}
	if n := len(r.List()); n != 1 {
		t.Errorf("List() has %d tools, want 1", n)
	}
}

func TestExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(models.Tool{ID: weatherID}, func(ctx context.Context, args map[string]any) (models.ToolResult, error) {
		if args["city"] != "Oslo" {
			t.Errorf("args = %v", args)
		}
		return models.ToolResult{Data: json.RawMessage(`{"temp": 14}`)}, nil
	})

	result, err := r.Execute(context.Background(), weatherID, map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(result.Data) != `{"temp": 14}` {
		t.Errorf("data = %s", result.Data)
	}
}

func TestExecuteUnregistered(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Execute(context.Background(), weatherID, nil); err == nil {
		t.Error("expected an error for an unregistered tool")
	}
}
