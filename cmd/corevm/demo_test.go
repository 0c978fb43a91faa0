package main

import (
	"testing"

	"github.com/dgdvm/core/pkg/dataspace"
	"github.com/dgdvm/core/pkg/interp"
	"github.com/dgdvm/core/pkg/kfun"
)

func TestBuildDemoProgramRuns(t *testing.T) {
	kfuns := kfun.NewTable()
	prog := buildDemoProgram(kfuns)

	data := dataspace.New()
	ip := interp.New(data, kfuns, cliDriver{})
	ip.Load(prog)

	obj := data.NewObject(prog.Name, 0)
	ref := obj.ObjectRef()

	result, err := ip.CallTopLevel(prog.Name, "run", ref.Index, ref.Generation, nil, -1, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Int() != 42 {
		t.Fatalf("expected 42, got %v", result.Int())
	}
}
