// Package profile defines the language records the sandbox runs programs with.
package profile

import (
	"strings"
	"time"

	"github.com/google/shlex"

	"judgecore/internal/judge/sandbox/spec"
	appErr "judgecore/pkg/errors"
)

// LanguageSpec defines how to build and run one language. Records are plain
// configuration looked up by ID and never mutated after load.
type LanguageSpec struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	EntryFile string `yaml:"entryFile" json:"entryFile"`
	// CompileCmd is empty for interpreted languages. Both templates are split
	// shell-style; {src} expands to EntryFile.
	CompileCmd string               `yaml:"compileCmd" json:"compileCmd"`
	RunCmd     string               `yaml:"runCmd" json:"runCmd"`
	Env        []string             `yaml:"env" json:"env"`
	Profile    spec.ResourceProfile `yaml:"profile" json:"profile"`
}

// Compiled reports whether the language has a build step.
func (l LanguageSpec) Compiled() bool {
	return strings.TrimSpace(l.CompileCmd) != ""
}

// CompileCommand expands the compile template.
func (l LanguageSpec) CompileCommand() (spec.CommandSpec, error) {
	return l.expand(l.CompileCmd)
}

// RunCommand expands the run template.
func (l LanguageSpec) RunCommand() (spec.CommandSpec, error) {
	return l.expand(l.RunCmd)
}

func (l LanguageSpec) expand(tpl string) (spec.CommandSpec, error) {
	if strings.TrimSpace(tpl) == "" {
		return spec.CommandSpec{}, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, "{src}", l.EntryFile)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return spec.CommandSpec{}, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return spec.CommandSpec{}, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return spec.CommandSpec{Binary: fields[0], Args: fields[1:]}, nil
}

// Validate checks a record loaded from configuration.
func (l LanguageSpec) Validate() error {
	if l.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if l.EntryFile == "" {
		return appErr.ValidationError("entry_file", "required")
	}
	if _, err := l.RunCommand(); err != nil {
		return err
	}
	if l.Compiled() {
		if _, err := l.CompileCommand(); err != nil {
			return err
		}
	}
	return l.Profile.Validate()
}

const tebibyte = 1 << 40

// DefaultProfile is the resource profile shared by the built-in languages.
// File size is capped at 1 KiB so a program cannot fill the disk; output goes
// to pipes, which the limit does not cover.
func DefaultProfile(timeLimit time.Duration) spec.ResourceProfile {
	return spec.ResourceProfile{
		Rlimits: []spec.RlimitEntry{
			{Resource: spec.RlimitStack, Soft: tebibyte, Hard: tebibyte},
			{Resource: spec.RlimitAS, Soft: tebibyte, Hard: tebibyte},
			{Resource: spec.RlimitCPU, Soft: 60, Hard: 90},
			{Resource: spec.RlimitFSize, Soft: 1024, Hard: 1024},
		},
		Denylist:     spec.SyscallDenylist{"fork", "vfork"},
		MemoryLimit:  1 << 30,
		ProcessLimit: 512,
		TimeLimit:    timeLimit,
	}
}

// Builtins returns the built-in language records.
func Builtins() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:         "cpp",
			Name:       "C++",
			EntryFile:  "main.cpp",
			CompileCmd: "g++ -o main {src}",
			RunCmd:     "./main",
			Profile:    DefaultProfile(2 * time.Second),
		},
		{
			ID:         "rust",
			Name:       "Rust",
			EntryFile:  "main.rs",
			CompileCmd: "rustc -O {src}",
			RunCmd:     "./main",
			Profile:    DefaultProfile(2 * time.Second),
		},
		{
			ID:         "java",
			Name:       "Java",
			EntryFile:  "Main.java",
			CompileCmd: "javac {src}",
			RunCmd:     "java Main",
			Profile:    DefaultProfile(4 * time.Second),
		},
		{
			ID:        "python",
			Name:      "Python",
			EntryFile: "main.py",
			RunCmd:    "python3 {src}",
			Profile:   DefaultProfile(10 * time.Second),
		},
	}
}
