package main

import (
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			"basic flags",
			[]string{"--agent", "writer-1", "--type", "summarize"},
			map[string]string{"agent": "writer-1", "type": "summarize"},
		},
		{
			"value with spaces",
			[]string{"--name", "daily digest"},
			map[string]string{"name": "daily digest"},
		},
		{
			"trailing flag without value ignored",
			[]string{"--agent", "writer-1", "--type"},
			map[string]string{"agent": "writer-1"},
		},
		{
			"empty args",
			nil,
			map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseArgs(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{"topic": "go", "count": 3}`)
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params["topic"] != "go" || params["count"] != float64(3) {
		t.Errorf("params = %v", params)
	}

	params, err = parseParams("")
	if err != nil || params != nil {
		t.Errorf("empty input: params=%v err=%v, want nil, nil", params, err)
	}

	if _, err := parseParams("{broken"); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}
