package profile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"judgecore/internal/judge/sandbox/spec"
	appErr "judgecore/pkg/errors"
)

func TestCommandExpansion(t *testing.T) {
	lang := LanguageSpec{
		ID:         "c",
		EntryFile:  "main.c",
		CompileCmd: `gcc -O2 -DNAME="two words" -o main {src}`,
		RunCmd:     "./main",
	}
	got, err := lang.CompileCommand()
	if err != nil {
		t.Fatalf("compile command: %v", err)
	}
	want := spec.CommandSpec{Binary: "gcc", Args: []string{"-O2", "-DNAME=two words", "-o", "main", "main.c"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("command mismatch (-want +got):\n%s", diff)
	}

	run, err := lang.RunCommand()
	if err != nil || run.Binary != "./main" || len(run.Args) != 0 {
		t.Fatalf("unexpected run command %+v (%v)", run, err)
	}
}

func TestCommandExpansionErrors(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
	}{
		{name: "empty", tpl: "   "},
		{name: "unterminated_quote", tpl: `echo "oops`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LanguageSpec{EntryFile: "x", RunCmd: tc.tpl}.RunCommand()
			if !appErr.Is(err, appErr.InvalidParams) {
				t.Fatalf("expected invalid params, got %v", err)
			}
		})
	}
}

func TestBuiltins(t *testing.T) {
	limits := map[string]time.Duration{
		"cpp":    2 * time.Second,
		"rust":   2 * time.Second,
		"java":   4 * time.Second,
		"python": 10 * time.Second,
	}
	langs := Builtins()
	if len(langs) != len(limits) {
		t.Fatalf("expected %d builtins, got %d", len(limits), len(langs))
	}
	for _, lang := range langs {
		if err := lang.Validate(); err != nil {
			t.Fatalf("%s: %v", lang.ID, err)
		}
		if lang.Profile.TimeLimit != limits[lang.ID] {
			t.Fatalf("%s: unexpected time limit %v", lang.ID, lang.Profile.TimeLimit)
		}
	}
	if Builtins()[3].Compiled() {
		t.Fatal("python should not have a build step")
	}
}

func TestDefaultProfileIsIndependent(t *testing.T) {
	a := DefaultProfile(time.Second)
	b := DefaultProfile(time.Second)
	a.Denylist[0] = "clone"
	if b.Denylist[0] != "fork" {
		t.Fatal("default profiles must not share slices")
	}
}
