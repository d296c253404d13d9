// internal/websocket/router_test.go
package websocket

import (
	"errors"
	"reflect"
	"testing"

	"rewind/internal/checkpoint"
)

type unitID string

type invocation struct {
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params"`
}

type testApp struct {
	rolledBack []unitID
}

func (a *testApp) Add(x, y int) int { return x + y }

func (a *testApp) Rollback(units []unitID) error {
	if len(units) == 0 {
		return errors.New("nothing to roll back")
	}
	a.rolledBack = units
	return nil
}

func (a *testApp) Invoke(inv invocation) (string, error) {
	path, _ := inv.Params["file_path"].(string)
	return inv.ID + ":" + path, nil
}

func (a *testApp) Has(unit unitID) bool { return unit == "u1" }

func (a *testApp) Track(inv checkpoint.ToolInvocation) string {
	return inv.Name + ":" + string(inv.ChangeUnit) + ":" + inv.TargetPath()
}

// ResetTo fails the newest unit and skips the rest
func (a *testApp) ResetTo(target checkpoint.ChangeUnitID, units []checkpoint.ChangeUnitID) error {
	if len(units) == 0 {
		return nil
	}
	results := []checkpoint.UnitResult{{
		ChangeUnit: units[len(units)-1],
		Err: &checkpoint.AggregateRollbackError{
			ChangeUnit: units[len(units)-1],
			Failures:   []*checkpoint.RollbackError{{Path: "a.txt", Err: errors.New("permission denied")}},
		},
	}}
	for i := len(units) - 2; i >= 0; i-- {
		results = append(results, checkpoint.UnitResult{ChangeUnit: units[i], Err: checkpoint.ErrSkipped})
	}
	return &checkpoint.BatchRollbackError{Target: target, Results: results}
}

func TestRouter_NumericParams(t *testing.T) {
	r := NewRouter(&testApp{})

	result, err := r.Call("Add", []interface{}{float64(2), float64(3)})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != 5 {
		t.Errorf("Expected 5, got %v", result)
	}
}

func TestRouter_NamedStringParam(t *testing.T) {
	r := NewRouter(&testApp{})

	result, err := r.Call("Has", []interface{}{"u1"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != true {
		t.Errorf("Expected true, got %v", result)
	}
}

func TestRouter_SliceParam(t *testing.T) {
	app := &testApp{}
	r := NewRouter(app)

	if _, err := r.Call("Rollback", []interface{}{[]interface{}{"u1", "u2"}}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !reflect.DeepEqual(app.rolledBack, []unitID{"u1", "u2"}) {
		t.Errorf("Unexpected units %v", app.rolledBack)
	}

	if _, err := r.Call("Rollback", []interface{}{nil}); err == nil {
		t.Error("Expected the method error to be returned")
	}
}

func TestRouter_StructParam(t *testing.T) {
	r := NewRouter(&testApp{})

	param := map[string]interface{}{
		"id":     "call-1",
		"params": map[string]interface{}{"file_path": "main.go"},
	}
	result, err := r.Call("Invoke", []interface{}{param})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != "call-1:main.go" {
		t.Errorf("Unexpected result %v", result)
	}
}

func TestRouter_Errors(t *testing.T) {
	r := NewRouter(&testApp{})

	if _, err := r.Call("Missing", nil); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("Expected ErrMethodNotFound, got %v", err)
	}
	if _, err := r.Call("Add", []interface{}{float64(1)}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams for wrong param count, got %v", err)
	}
	if _, err := r.Call("Invoke", []interface{}{"not an object"}); err == nil {
		t.Error("Expected error for unconvertible param")
	}
}

func TestRouter_ToolInvocationParam(t *testing.T) {
	r := NewRouter(&testApp{})

	result, err := r.Call("Track", []interface{}{map[string]interface{}{
		"id":             "call-1",
		"name":           "Edit",
		"change_unit_id": "u1",
		"input":          map[string]interface{}{"file_path": "main.go"},
	}})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != "Edit:u1:main.go" {
		t.Errorf("Unexpected result %v", result)
	}

	_, err = r.Call("Track", []interface{}{map[string]interface{}{"id": "call-2"}})
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams for nameless invocation, got %v", err)
	}
}

func TestRouter_ChangeUnitParams(t *testing.T) {
	r := NewRouter(&testApp{})

	tests := []struct {
		name    string
		units   interface{}
		invalid bool
	}{
		{"null", nil, false},
		{"single id", "u1", false},
		{"array", []interface{}{"u1", "u2"}, false},
		{"non-string item", []interface{}{"u1", float64(2)}, true},
		{"object", map[string]interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Call("ResetTo", []interface{}{"u1", tt.units})
			var batch *checkpoint.BatchRollbackError
			switch {
			case tt.invalid:
				if !errors.Is(err, ErrInvalidParams) {
					t.Errorf("Expected ErrInvalidParams, got %v", err)
				}
			case tt.units == nil:
				if err != nil {
					t.Errorf("Expected no error for null units, got %v", err)
				}
			case !errors.As(err, &batch):
				t.Errorf("Expected the method's batch error, got %v", err)
			}
		})
	}

	if _, err := r.Call("ResetTo", []interface{}{"", nil}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams for empty target, got %v", err)
	}
}
