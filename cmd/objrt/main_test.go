package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/objrt/vm"
	"github.com/chazu/objrt/vm/loader"
)

func pointModule() *loader.Module {
	return &loader.Module{
		Name: "geometry",
		Classes: []loader.ClassDesc{
			{
				Name:    "Object",
				Methods: []loader.MethodDesc{{Selector: "description", Symbol: "objrt.describe"}, {Selector: "self", Symbol: "objrt.self"}},
			},
			{
				Name:         "Point",
				Superclass:   "Object",
				Ivars:        []loader.IvarDesc{{Name: "x"}, {Name: "y"}},
				Methods:      []loader.MethodDesc{{Selector: "x", Symbol: "objrt.ivar0"}, {Selector: "fields", Symbol: "objrt.ivars"}},
				ClassMethods: []loader.MethodDesc{{Selector: "name", Symbol: "objrt.class"}},
				Protocols:    []string{"Geometry"},
			},
		},
	}
}

func loadPoint(t *testing.T) *vm.VM {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geometry.objm")
	if err := loader.WriteModule(path, pointModule()); err != nil {
		t.Fatal(err)
	}
	rt := vm.NewVM(vm.DefaultConfig())
	t.Cleanup(rt.Close)
	if _, err := loader.New(rt, builtinSymbols()).LoadFiles(context.Background(), path); err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	return rt
}

func TestSendMessage(t *testing.T) {
	rt := loadPoint(t)
	tests := []struct {
		spec    string
		want    string
		wantErr string
	}{
		{"Point description", "a Point", ""},
		{"+Point name", "Point", ""},
		{"+Point description", "Point", ""},
		{"Point fields", "<nil> <nil>", ""},
		{"Point x", "<nil>", ""},
		{"Point name", "", "unrecognized selector"},
		{"Point missing", "", "unrecognized selector"},
		{"Circle description", "", "no class named Circle"},
		{"Point", "", "want 'Class selector'"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := sendMessage(rt, tt.spec)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("sendMessage: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDumpClasses(t *testing.T) {
	rt := loadPoint(t)
	if _, err := sendMessage(rt, "Point description"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	dumpClasses(&buf, rt)
	out := buf.String()
	for _, want := range []string{
		"Point : Object",
		"ivars: x y",
		"protocols: Geometry",
		"- dtable (installed",
		"-description -> Object",
		"+name -> Point class",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStats(t *testing.T) {
	rt := loadPoint(t)
	var buf bytes.Buffer
	printStats(&buf, rt, []*loader.Result{{Name: "geometry"}})
	if !strings.Contains(buf.String(), "classes:    2") {
		t.Errorf("stats:\n%s", buf.String())
	}
}
