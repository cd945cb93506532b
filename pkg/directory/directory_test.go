package directory

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDirectoryOperations(t *testing.T) {
	t.Parallel()

	var directory Directory
	if directory.Len() != 0 {
		t.Fatalf("zero directory len = %d, want 0", directory.Len())
	}

	members := []string{"U1", "U2", "U1"}
	directory.Put("eng", members)
	members[0] = "mutated"

	got, ok := directory.Lookup("eng")
	if !ok {
		t.Fatal("Lookup(eng) missing")
	}
	if diff := cmp.Diff([]string{"U1", "U2", "U1"}, got); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}
	got[0] = "mutated"
	again, _ := directory.Lookup("eng")
	if again[0] != "U1" {
		t.Fatal("Lookup returned shared backing array")
	}

	directory.Put("ops", nil)
	directory.Put("Eng", []string{"U3"})
	if diff := cmp.Diff([]string{"Eng", "eng", "ops"}, directory.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	clone := directory.Clone()
	clone.Put("eng", []string{"U9"})
	original, _ := directory.Lookup("eng")
	if original[0] != "U1" {
		t.Fatal("Clone shares state with original")
	}

	if !directory.Delete("ops") {
		t.Fatal("Delete(ops) = false, want true")
	}
	if directory.Delete("ops") {
		t.Fatal("second Delete(ops) = true, want false")
	}
	if _, ok := directory.Lookup("ops"); ok {
		t.Fatal("ops still present after delete")
	}
}

func TestDirectoryUnmarshalRejectsMalformedShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "empty object", input: `{}`},
		{name: "groups", input: `{"eng":["U1","U2"],"ops":[]}`},
		{name: "null", input: `null`, wantErr: true},
		{name: "array", input: `[]`, wantErr: true},
		{name: "scalar", input: `42`, wantErr: true},
		{name: "null members", input: `{"eng":null}`, wantErr: true},
		{name: "string members", input: `{"eng":"U1"}`, wantErr: true},
		{name: "numeric member", input: `{"eng":[1]}`, wantErr: true},
		{name: "null member", input: `{"eng":[null]}`, wantErr: true},
		{name: "null member among ids", input: `{"eng":["U1",null]}`, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var directory Directory
			err := json.Unmarshal([]byte(testCase.input), &directory)
			if testCase.wantErr && err == nil {
				t.Fatalf("Unmarshal(%s) succeeded, want error", testCase.input)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("Unmarshal(%s) failed: %v", testCase.input, err)
			}
		})
	}
}
